package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
	ledgerpostgres "credit-exchange/internal/ledger/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSettleTrade_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"accounts", "credit_lots", "trades"} {
		if !tableExists(db, table) {
			t.Skipf("%s missing; run migrations", table)
		}
	}

	ctx := context.Background()
	run := uuid.NewString()[:8]
	buyer := "it-buyer-" + run
	seller := "it-seller-" + run
	creditType := ledger.CreditType("carbon")
	sellOrderID := "it-sell-" + run

	store := ledgerpostgres.NewStore(db)

	if err := store.MintLot(ctx, &ledger.CreditLot{
		LotID:          "it-lot-" + run,
		OwnerAccountID: seller,
		CreditType:     creditType,
		Quantity:       50,
		MintedAt:       time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := store.LockLots(ctx, seller, creditType, 50, sellOrderID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Deposit(ctx, buyer, creditType, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.ReserveCash(ctx, buyer, creditType, decimal.NewFromInt(300)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	settlement := ledger.TradeSettlement{
		TradeID:         "it-trade-" + run,
		CreditType:      creditType,
		BuyOrderID:      "it-buy-" + run,
		SellOrderID:     sellOrderID,
		BuyerAccountID:  buyer,
		SellerAccountID: seller,
		Quantity:        50,
		Price:           decimal.NewFromInt(5),
		BuyLimitPrice:   decimal.NewFromInt(6),
		Fee:             decimal.NewFromInt(1),
		ExecutedAt:      time.Now().UTC(),
	}
	if err := store.SettleTrade(ctx, settlement); err != nil {
		t.Fatalf("settle: %v", err)
	}

	buyerAccount, err := store.GetAccount(ctx, buyer, creditType)
	if err != nil {
		t.Fatalf("buyer account: %v", err)
	}
	// 500 deposited, 300 escrowed, 50*6 debited from escrow with the
	// 50*(6-5) difference refunded to cash: 200 + 50 = 250 cash, 0 escrow.
	if buyerAccount.Available != 50 || !buyerAccount.Cash.Equal(decimal.NewFromInt(250)) || !buyerAccount.Escrow.Equal(decimal.Zero) {
		t.Fatalf("buyer account = %+v", buyerAccount)
	}

	sellerAccount, err := store.GetAccount(ctx, seller, creditType)
	if err != nil {
		t.Fatalf("seller account: %v", err)
	}
	if sellerAccount.Locked != 0 || sellerAccount.Available != 0 || !sellerAccount.Cash.Equal(decimal.NewFromInt(249)) {
		t.Fatalf("seller account = %+v", sellerAccount)
	}

	trades, err := store.ListTrades(ctx, buyer, creditType)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 || trades[0].TradeID != settlement.TradeID || trades[0].Quantity != 50 {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestReleaseLots_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"accounts", "credit_lots"} {
		if !tableExists(db, table) {
			t.Skipf("%s missing; run migrations", table)
		}
	}

	ctx := context.Background()
	run := uuid.NewString()[:8]
	seller := "it-seller-" + run
	creditType := ledger.CreditType("carbon")
	orderID := "it-order-" + run

	store := ledgerpostgres.NewStore(db)

	for i, quantity := range []int64{30, 20} {
		if err := store.MintLot(ctx, &ledger.CreditLot{
			LotID:          "it-lot-" + run + "-" + string(rune('a'+i)),
			OwnerAccountID: seller,
			CreditType:     creditType,
			Quantity:       quantity,
			MintedAt:       time.Now().UTC(),
			ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
		}); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if _, err := store.LockLots(ctx, seller, creditType, 50, orderID); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := store.ReleaseLots(ctx, orderID); err != nil {
		t.Fatalf("release: %v", err)
	}

	account, err := store.GetAccount(ctx, seller, creditType)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Available != 50 || account.Locked != 0 {
		t.Fatalf("account after release = %+v", account)
	}
	lots, err := store.ListLots(ctx, seller, creditType)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	for _, lot := range lots {
		if lot.Status != ledger.LotActive || lot.LockingOrderID != "" {
			t.Fatalf("lot not released: %+v", lot)
		}
	}

	// Releasing an order with no locked lots is a no-op.
	if err := store.ReleaseLots(ctx, orderID); err != nil {
		t.Fatalf("repeat release: %v", err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	return err == nil && exists
}
