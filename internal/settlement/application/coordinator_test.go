package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
	ledgermem "credit-exchange/internal/ledger/infrastructure/memory"
)

type captureBus struct {
	mu     sync.Mutex
	events []any
}

func (b *captureBus) Publish(_ context.Context, event any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) all() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.events...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seededStore(t *testing.T, opts ...ledgermem.Option) *ledgermem.Store {
	t.Helper()
	ctx := context.Background()
	store := ledgermem.NewStore(opts...)
	err := store.MintLot(ctx, &ledger.CreditLot{
		LotID:          "lot-1",
		OwnerAccountID: "seller",
		CreditType:     ledger.CreditType("carbon"),
		Quantity:       50,
		MintedAt:       time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := store.LockLots(ctx, "seller", ledger.CreditType("carbon"), 50, "sell-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Deposit(ctx, "buyer", ledger.CreditType("carbon"), decimal.NewFromInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.ReserveCash(ctx, "buyer", ledger.CreditType("carbon"), decimal.NewFromInt(250)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return store
}

func testSettlement() ledger.TradeSettlement {
	return ledger.TradeSettlement{
		TradeID:         "trade-1",
		CreditType:      ledger.CreditType("carbon"),
		BuyOrderID:      "buy-1",
		SellOrderID:     "sell-1",
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		Quantity:        50,
		Price:           decimal.NewFromInt(5),
		BuyLimitPrice:   decimal.NewFromInt(5),
		Fee:             decimal.NewFromInt(1),
		ExecutedAt:      time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestSettlePublishesTradeSettled(t *testing.T) {
	bus := &captureBus{}
	coordinator, err := NewCoordinator(seededStore(t), bus, fixedClock{now: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	settlement := testSettlement()
	if err := coordinator.Settle(context.Background(), settlement); err != nil {
		t.Fatalf("settle: %v", err)
	}

	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	settled, ok := events[0].(TradeSettled)
	if !ok {
		t.Fatalf("event type = %T", events[0])
	}
	if settled.TradeID != "trade-1" || settled.BuyerAccountID != "buyer" || settled.SellerAccountID != "seller" {
		t.Fatalf("event = %+v", settled)
	}
	if !settled.OccurredAt.Equal(settlement.ExecutedAt) {
		t.Fatalf("occurred at = %v, want execution time", settled.OccurredAt)
	}
}

func TestSettleRetriesConflicts(t *testing.T) {
	conflicts := 2
	store := seededStore(t, ledgermem.WithSettleFault(func(ledger.TradeSettlement) error {
		if conflicts > 0 {
			conflicts--
			return ledger.ErrConflict
		}
		return nil
	}))
	coordinator, err := NewCoordinator(store, &captureBus{}, fixedClock{now: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := coordinator.Settle(context.Background(), testSettlement()); err != nil {
		t.Fatalf("settle after transient conflicts: %v", err)
	}
	if conflicts != 0 {
		t.Fatalf("retries left conflicts = %d", conflicts)
	}
}

func TestSettleAbortPublishesTradeAborted(t *testing.T) {
	terminal := errors.New("lot gone")
	store := seededStore(t, ledgermem.WithSettleFault(func(ledger.TradeSettlement) error {
		return terminal
	}))
	bus := &captureBus{}
	now := time.Date(2026, time.March, 2, 10, 5, 0, 0, time.UTC)
	coordinator, err := NewCoordinator(store, bus, fixedClock{now: now}, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	if err := coordinator.Settle(context.Background(), testSettlement()); !errors.Is(err, terminal) {
		t.Fatalf("settle error = %v, want terminal failure", err)
	}

	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	aborted, ok := events[0].(TradeAborted)
	if !ok {
		t.Fatalf("event type = %T", events[0])
	}
	if aborted.TradeID != "trade-1" || aborted.Reason == "" || !aborted.OccurredAt.Equal(now) {
		t.Fatalf("event = %+v", aborted)
	}

	// A terminal failure must not be retried past the retry budget.
	seller, _ := store.GetAccount(context.Background(), "seller", ledger.CreditType("carbon"))
	if seller.Locked != 50 {
		t.Fatalf("seller mutated by aborted settle: %+v", seller)
	}
}
