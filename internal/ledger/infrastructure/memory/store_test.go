package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

func mintTestLot(t *testing.T, store *Store, lotID, accountID string, quantity int64, expiresAt time.Time) {
	t.Helper()
	err := store.MintLot(context.Background(), &ledger.CreditLot{
		LotID:          lotID,
		OwnerAccountID: accountID,
		CreditType:     ledger.CreditType("carbon"),
		Quantity:       quantity,
		MintedAt:       time.Now().UTC(),
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("mint lot: %v", err)
	}
}

func TestMintAndLockLots(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	carbon := ledger.CreditType("carbon")
	expiry := time.Now().UTC().Add(24 * time.Hour)

	mintTestLot(t, store, "lot-1", "acct-1", 40, expiry)
	mintTestLot(t, store, "lot-2", "acct-1", 60, expiry)

	account, err := store.GetAccount(ctx, "acct-1", carbon)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Available != 100 || account.Locked != 0 {
		t.Fatalf("balance after mint: available=%d locked=%d", account.Available, account.Locked)
	}

	// 70 needs all of lot-1 plus a 30-unit slice of lot-2.
	locked, err := store.LockLots(ctx, "acct-1", carbon, 70, "order-1")
	if err != nil {
		t.Fatalf("lock lots: %v", err)
	}
	var lockedQty int64
	for _, lot := range locked {
		if lot.Status != ledger.LotLocked || lot.LockingOrderID != "order-1" {
			t.Fatalf("lot %s not locked by order-1: %+v", lot.LotID, lot)
		}
		lockedQty += lot.Quantity
	}
	if lockedQty != 70 {
		t.Fatalf("locked quantity = %d, want 70", lockedQty)
	}

	account, _ = store.GetAccount(ctx, "acct-1", carbon)
	if account.Available != 30 || account.Locked != 70 {
		t.Fatalf("balance after lock: available=%d locked=%d", account.Available, account.Locked)
	}

	// The remainder of lot-2 stays available.
	if _, err := store.LockLots(ctx, "acct-1", carbon, 30, "order-2"); err != nil {
		t.Fatalf("lock remainder: %v", err)
	}
	if _, err := store.LockLots(ctx, "acct-1", carbon, 1, "order-3"); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("overdraw lock error = %v, want ErrInsufficientCredits", err)
	}
}

func TestLockLotsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	carbon := ledger.CreditType("carbon")
	expiry := time.Now().UTC().Add(24 * time.Hour)

	mintTestLot(t, store, "lot-1", "acct-1", 50, expiry)
	if _, err := store.LockLots(ctx, "acct-1", carbon, 80, "order-1"); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("lock error = %v, want ErrInsufficientCredits", err)
	}

	account, _ := store.GetAccount(ctx, "acct-1", carbon)
	if account.Available != 50 || account.Locked != 0 {
		t.Fatalf("failed lock must not mutate: available=%d locked=%d", account.Available, account.Locked)
	}
	lots, _ := store.ListLots(ctx, "acct-1", carbon)
	for _, lot := range lots {
		if lot.Status != ledger.LotActive {
			t.Fatalf("lot %s status = %s after failed lock", lot.LotID, lot.Status)
		}
	}
}

func TestConcurrentLockSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	expiry := time.Now().UTC().Add(24 * time.Hour)
	mintTestLot(t, store, "lot-1", "acct-1", 10, expiry)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.LockLots(ctx, "acct-1", ledger.CreditType("carbon"), 10, "order-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ledger.ErrLotUnavailable) && !errors.Is(err, ledger.ErrInsufficientCredits) {
			t.Fatalf("loser error = %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	account, _ := store.GetAccount(ctx, "acct-1", ledger.CreditType("carbon"))
	if account.Available != 0 || account.Locked != 10 {
		t.Fatalf("balance after race: available=%d locked=%d", account.Available, account.Locked)
	}
}

func TestSettleTrade(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	carbon := ledger.CreditType("carbon")
	lotExpiry := time.Now().UTC().Add(48 * time.Hour)

	mintTestLot(t, store, "lot-s", "seller", 100, lotExpiry)
	if _, err := store.LockLots(ctx, "seller", carbon, 60, "sell-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Deposit(ctx, "buyer", carbon, decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Buyer escrowed at limit 6, execution happens at 5.
	if err := store.ReserveCash(ctx, "buyer", carbon, decimal.NewFromInt(360)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	executed := time.Now().UTC()
	err := store.SettleTrade(ctx, ledger.TradeSettlement{
		TradeID:         "trade-1",
		CreditType:      carbon,
		BuyOrderID:      "buy-1",
		SellOrderID:     "sell-1",
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		BuyerLotID:      "lot-b",
		Quantity:        60,
		Price:           decimal.NewFromInt(5),
		BuyLimitPrice:   decimal.NewFromInt(6),
		Fee:             decimal.NewFromInt(3),
		ExecutedAt:      executed,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	buyer, _ := store.GetAccount(ctx, "buyer", carbon)
	if buyer.Available != 60 {
		t.Fatalf("buyer credits = %d, want 60", buyer.Available)
	}
	// 1000 - 360 reserved, then the 60 limit-price difference refunded.
	if !buyer.Cash.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("buyer cash = %s, want 700", buyer.Cash)
	}
	if !buyer.Escrow.IsZero() {
		t.Fatalf("buyer escrow = %s, want 0", buyer.Escrow)
	}

	seller, _ := store.GetAccount(ctx, "seller", carbon)
	if seller.Available != 40 || seller.Locked != 0 {
		t.Fatalf("seller credits: available=%d locked=%d", seller.Available, seller.Locked)
	}
	// 60*5 minus the 3 fee.
	if !seller.Cash.Equal(decimal.NewFromInt(297)) {
		t.Fatalf("seller cash = %s, want 297", seller.Cash)
	}

	buyerLot, err := store.GetLot(ctx, "lot-b")
	if err != nil {
		t.Fatalf("buyer lot: %v", err)
	}
	if !buyerLot.ExpiresAt.Equal(lotExpiry) {
		t.Fatalf("buyer lot expiry = %v, want inherited %v", buyerLot.ExpiresAt, lotExpiry)
	}

	trades, _ := store.ListTrades(ctx, "buyer", carbon)
	if len(trades) != 1 || trades[0].TradeID != "trade-1" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestSettleTradeAtomicOnFault(t *testing.T) {
	ctx := context.Background()
	fault := errors.New("storage fault")
	store := NewStore(WithSettleFault(func(ledger.TradeSettlement) error { return fault }))
	carbon := ledger.CreditType("carbon")
	expiry := time.Now().UTC().Add(48 * time.Hour)

	mintTestLot(t, store, "lot-s", "seller", 50, expiry)
	if _, err := store.LockLots(ctx, "seller", carbon, 50, "sell-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Deposit(ctx, "buyer", carbon, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.ReserveCash(ctx, "buyer", carbon, decimal.NewFromInt(250)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := store.SettleTrade(ctx, ledger.TradeSettlement{
		TradeID:         "trade-1",
		CreditType:      carbon,
		SellOrderID:     "sell-1",
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		Quantity:        50,
		Price:           decimal.NewFromInt(5),
		BuyLimitPrice:   decimal.NewFromInt(5),
		ExecutedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, fault) {
		t.Fatalf("settle error = %v, want injected fault", err)
	}

	seller, _ := store.GetAccount(ctx, "seller", carbon)
	if seller.Locked != 50 || !seller.Cash.IsZero() {
		t.Fatalf("seller mutated by failed settle: %+v", seller)
	}
	buyer, _ := store.GetAccount(ctx, "buyer", carbon)
	if buyer.Available != 0 || !buyer.Escrow.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("buyer mutated by failed settle: %+v", buyer)
	}
	trades, _ := store.ListTrades(ctx, "buyer", carbon)
	if len(trades) != 0 {
		t.Fatalf("trade persisted despite failed settle")
	}
}

func TestExpireLots(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	carbon := ledger.CreditType("carbon")
	now := time.Now().UTC()

	mintTestLot(t, store, "lot-old", "acct-1", 30, now.Add(-time.Hour))
	mintTestLot(t, store, "lot-live", "acct-1", 20, now.Add(24*time.Hour))
	mintTestLot(t, store, "lot-locked", "acct-2", 40, now.Add(-time.Minute))
	if _, err := store.LockLots(ctx, "acct-2", carbon, 40, "order-x"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	report, err := store.ExpireLots(ctx, carbon, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(report.Expired) != 2 {
		t.Fatalf("expired = %d lots, want 2", len(report.Expired))
	}
	if len(report.ForceCancelOrders) != 1 || report.ForceCancelOrders[0] != "order-x" {
		t.Fatalf("force cancel = %v, want [order-x]", report.ForceCancelOrders)
	}

	acct1, _ := store.GetAccount(ctx, "acct-1", carbon)
	if acct1.Available != 20 {
		t.Fatalf("acct-1 available = %d, want 20", acct1.Available)
	}
	acct2, _ := store.GetAccount(ctx, "acct-2", carbon)
	if acct2.Locked != 0 {
		t.Fatalf("acct-2 locked = %d, want 0", acct2.Locked)
	}

	// Idempotent: a second sweep finds nothing.
	report, _ = store.ExpireLots(ctx, carbon, now)
	if len(report.Expired) != 0 {
		t.Fatalf("second sweep expired %d lots", len(report.Expired))
	}
}

func TestExpiredLotsAreNotLockable(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	mintTestLot(t, store, "lot-old", "acct-1", 30, now.Add(-time.Hour))

	_, err := store.LockLots(ctx, "acct-1", ledger.CreditType("carbon"), 10, "order-1")
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("lock expired lot error = %v, want ErrInsufficientCredits", err)
	}
}

func TestCashFlows(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	carbon := ledger.CreditType("carbon")

	if err := store.Deposit(ctx, "acct-1", carbon, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.Deposit(ctx, "acct-1", carbon, decimal.NewFromInt(-5)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("negative deposit error = %v", err)
	}
	if err := store.DebitCash(ctx, "acct-1", carbon, decimal.NewFromInt(150)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("overdraw debit error = %v", err)
	}
	if err := store.ReserveCash(ctx, "acct-1", carbon, decimal.NewFromInt(60)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.ReserveCash(ctx, "acct-1", carbon, decimal.NewFromInt(60)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("over-reserve error = %v", err)
	}
	if err := store.ReleaseCash(ctx, "acct-1", carbon, decimal.NewFromInt(60)); err != nil {
		t.Fatalf("release: %v", err)
	}

	account, _ := store.GetAccount(ctx, "acct-1", carbon)
	if !account.Cash.Equal(decimal.NewFromInt(100)) || !account.Escrow.IsZero() {
		t.Fatalf("cash=%s escrow=%s after reserve/release round trip", account.Cash, account.Escrow)
	}
}
