package statements

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// WriteTradesCSV streams the trades as CSV from the account's perspective.
// Fees appear on sell rows only, matching how settlement charges them.
func WriteTradesCSV(w io.Writer, accountID string, trades []*ledger.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"trade_id", "executed_at", "credit_type", "side", "quantity", "price", "gross", "fee"}); err != nil {
		return err
	}
	for _, trade := range trades {
		side := "sell"
		fee := trade.Fee
		if trade.BuyerAccountID == accountID {
			side = "buy"
			fee = decimal.Zero
		}
		gross := trade.Price.Mul(decimal.NewFromInt(trade.Quantity))
		record := []string{
			trade.TradeID,
			trade.ExecutedAt.UTC().Format(time.RFC3339),
			string(trade.CreditType),
			side,
			fmt.Sprintf("%d", trade.Quantity),
			trade.Price.StringFixed(2),
			gross.StringFixed(2),
			fee.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
