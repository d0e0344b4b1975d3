// Package statements renders monthly account statements and trade exports
// from the ledger's trade history.
package statements

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// TradeReader is the slice of the ledger the statement service reads.
type TradeReader interface {
	ListTrades(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.Trade, error)
	ListTradesBetween(ctx context.Context, accountID string, creditType ledger.CreditType, from, to time.Time) ([]*ledger.Trade, error)
}

// Line is one trade from the statement account's perspective.
type Line struct {
	TradeID    string
	ExecutedAt time.Time
	Side       string
	Quantity   int64
	Price      decimal.Decimal
	Gross      decimal.Decimal
	Fee        decimal.Decimal
}

// MonthlyStatement aggregates one account's trading month in one market.
type MonthlyStatement struct {
	AccountID  string
	CreditType ledger.CreditType
	Month      time.Time
	Lines      []Line

	BoughtQuantity int64
	SoldQuantity   int64
	NetQuantity    int64
	GrossBought    decimal.Decimal
	GrossSold      decimal.Decimal
	Fees           decimal.Decimal
	NetCash        decimal.Decimal
}

// Service builds statements from ledger trades.
type Service struct {
	trades TradeReader
}

// NewService constructs a statement service.
func NewService(trades TradeReader) (*Service, error) {
	if trades == nil {
		return nil, errors.New("statements: nil trade reader")
	}
	return &Service{trades: trades}, nil
}

// Monthly builds the account's statement for the month containing ref.
// Fees are charged to the selling side only.
func (s *Service) Monthly(ctx context.Context, accountID string, creditType ledger.CreditType, ref time.Time) (*MonthlyStatement, error) {
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	trades, err := s.trades.ListTradesBetween(ctx, accountID, creditType, start, end)
	if err != nil {
		return nil, err
	}

	statement := &MonthlyStatement{
		AccountID:   accountID,
		CreditType:  creditType,
		Month:       start,
		GrossBought: decimal.Zero,
		GrossSold:   decimal.Zero,
		Fees:        decimal.Zero,
		NetCash:     decimal.Zero,
	}
	for _, trade := range trades {
		gross := trade.Price.Mul(decimal.NewFromInt(trade.Quantity))
		line := Line{
			TradeID:    trade.TradeID,
			ExecutedAt: trade.ExecutedAt,
			Quantity:   trade.Quantity,
			Price:      trade.Price,
			Gross:      gross,
			Fee:        decimal.Zero,
		}
		if trade.BuyerAccountID == accountID {
			line.Side = "buy"
			statement.BoughtQuantity += trade.Quantity
			statement.GrossBought = statement.GrossBought.Add(gross)
		} else {
			line.Side = "sell"
			line.Fee = trade.Fee
			statement.SoldQuantity += trade.Quantity
			statement.GrossSold = statement.GrossSold.Add(gross)
			statement.Fees = statement.Fees.Add(trade.Fee)
		}
		statement.Lines = append(statement.Lines, line)
	}
	statement.NetQuantity = statement.BoughtQuantity - statement.SoldQuantity
	statement.NetCash = statement.GrossSold.Sub(statement.Fees).Sub(statement.GrossBought)
	return statement, nil
}

// Trades returns the account's full trade history, newest first.
func (s *Service) Trades(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.Trade, error) {
	return s.trades.ListTrades(ctx, accountID, creditType)
}
