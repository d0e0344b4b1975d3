package application

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	ledger "credit-exchange/internal/ledger/domain"
	ledgermem "credit-exchange/internal/ledger/infrastructure/memory"
)

type staticClock struct{ now time.Time }

func (c staticClock) Now() time.Time { return c.now }

type failBus struct{ err error }

func (b failBus) Publish(context.Context, any) error { return b.err }

func TestMintLotWithIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := ledgermem.NewStore()
	service, err := NewService(store, nil, staticClock{now: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	first, err := service.MintLotWithID(ctx, "lot-1", "acct-1", ledger.CreditType("carbon"), 50, expiresAt)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	again, err := service.MintLotWithID(ctx, "lot-1", "acct-1", ledger.CreditType("carbon"), 50, expiresAt)
	if err != nil {
		t.Fatalf("repeat mint: %v", err)
	}
	if again.LotID != first.LotID {
		t.Fatalf("repeat mint returned lot %s, want %s", again.LotID, first.LotID)
	}

	account, err := store.GetAccount(ctx, "acct-1", ledger.CreditType("carbon"))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Available != 50 {
		t.Fatalf("available = %d, want 50 after repeated mint", account.Available)
	}
	lots, err := store.ListLots(ctx, "acct-1", ledger.CreditType("carbon"))
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("lots = %d, want 1", len(lots))
	}
}

func TestMintLotWithIDRejectsForeignOwner(t *testing.T) {
	ctx := context.Background()
	service, err := NewService(ledgermem.NewStore(), nil, staticClock{now: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.MintLotWithID(ctx, "lot-1", "acct-1", ledger.CreditType("carbon"), 10, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := service.MintLotWithID(ctx, "lot-1", "acct-2", ledger.CreditType("carbon"), 10, time.Now().UTC().Add(time.Hour)); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("foreign-owner reuse error = %v", err)
	}
}

func TestMintLotValidation(t *testing.T) {
	service, err := NewService(ledgermem.NewStore(), nil, staticClock{now: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.MintLot(context.Background(), "acct-1", ledger.CreditType("carbon"), 0, time.Now().UTC()); !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Fatalf("zero quantity error = %v", err)
	}
}

func TestPublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	service, err := NewService(ledgermem.NewStore(), failBus{err: errors.New("outbox down")}, staticClock{now: time.Now().UTC()}, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	lot, err := service.MintLot(context.Background(), "acct-1", ledger.CreditType("carbon"), 10, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if lot == nil {
		t.Fatalf("no lot returned")
	}
	if !strings.Contains(buf.String(), "publish event") {
		t.Fatalf("publish failure not logged: %q", buf.String())
	}
}
