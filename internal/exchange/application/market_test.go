package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	exchange "credit-exchange/internal/exchange/domain"
	exchangemem "credit-exchange/internal/exchange/infrastructure/memory"
	ledger "credit-exchange/internal/ledger/domain"
	ledgermem "credit-exchange/internal/ledger/infrastructure/memory"
)

const testMarket = ledger.CreditType("carbon")

// storeGateway adapts the ledger store to the narrower market-facing
// interface.
type storeGateway struct {
	store *ledgermem.Store
}

func (g storeGateway) LockLots(ctx context.Context, accountID string, creditType ledger.CreditType, quantity int64, orderID string) error {
	_, err := g.store.LockLots(ctx, accountID, creditType, quantity, orderID)
	return err
}

func (g storeGateway) ReleaseLots(ctx context.Context, orderID string) error {
	return g.store.ReleaseLots(ctx, orderID)
}

func (g storeGateway) ReserveCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return g.store.ReserveCash(ctx, accountID, creditType, amount)
}

func (g storeGateway) ReleaseCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return g.store.ReleaseCash(ctx, accountID, creditType, amount)
}

func (g storeGateway) ExpireLots(ctx context.Context, creditType ledger.CreditType, now time.Time) (*ledger.ExpiryReport, error) {
	return g.store.ExpireLots(ctx, creditType, now)
}

// recordingSettler settles against the store and captures every instruction;
// failN injects failures for the first N calls.
type recordingSettler struct {
	mu          sync.Mutex
	store       *ledgermem.Store
	settlements []ledger.TradeSettlement
	failN       int
}

func (s *recordingSettler) Settle(ctx context.Context, settlement ledger.TradeSettlement) error {
	s.mu.Lock()
	if s.failN > 0 {
		s.failN--
		s.mu.Unlock()
		return errors.New("settle unavailable")
	}
	s.mu.Unlock()
	if err := s.store.SettleTrade(ctx, settlement); err != nil {
		return err
	}
	s.mu.Lock()
	s.settlements = append(s.settlements, settlement)
	s.mu.Unlock()
	return nil
}

func (s *recordingSettler) all() []ledger.TradeSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.TradeSettlement(nil), s.settlements...)
}

type recordingBus struct {
	mu     sync.Mutex
	events []any
}

func (b *recordingBus) Publish(_ context.Context, event any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) all() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type marketHarness struct {
	market  *Market
	store   *ledgermem.Store
	settler *recordingSettler
	bus     *recordingBus
	clock   *fakeClock
}

func newMarketHarness(t *testing.T, feeRate decimal.Decimal) *marketHarness {
	t.Helper()
	store := ledgermem.NewStore()
	settler := &recordingSettler{store: store}
	bus := &recordingBus{}
	clock := &fakeClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
	market, err := NewMarket(testMarket, feeRate, time.Hour, MarketDeps{
		Orders:  exchangemem.NewOrderRepository(),
		Ledger:  storeGateway{store: store},
		Settler: settler,
		Bus:     bus,
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	if err := market.Start(context.Background()); err != nil {
		t.Fatalf("start market: %v", err)
	}
	t.Cleanup(market.Stop)
	return &marketHarness{market: market, store: store, settler: settler, bus: bus, clock: clock}
}

func (h *marketHarness) mint(t *testing.T, accountID string, quantity int64, expiresAt time.Time) {
	t.Helper()
	err := h.store.MintLot(context.Background(), &ledger.CreditLot{
		LotID:          "lot-" + accountID + "-" + time.Now().Format("150405.000000000"),
		OwnerAccountID: accountID,
		CreditType:     testMarket,
		Quantity:       quantity,
		MintedAt:       h.clock.Now(),
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *marketHarness) deposit(t *testing.T, accountID string, amount int64) {
	t.Helper()
	if err := h.store.Deposit(context.Background(), accountID, testMarket, decimal.NewFromInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()

	_, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "a", Side: exchange.SideBuy, Price: decimal.NewFromInt(5), Quantity: 0})
	if !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Fatalf("zero quantity error = %v", err)
	}
	_, err = h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "a", Side: exchange.SideBuy, Price: decimal.Zero, Quantity: 1})
	if !errors.Is(err, exchange.ErrInvalidPrice) {
		t.Fatalf("zero price error = %v", err)
	}
	_, err = h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "a", Side: exchange.Side("hold"), Price: decimal.NewFromInt(5), Quantity: 1})
	if !errors.Is(err, exchange.ErrInvalidSide) {
		t.Fatalf("bad side error = %v", err)
	}
	// No cash deposited: the buy must be rejected at reservation.
	_, err = h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "a", Side: exchange.SideBuy, Price: decimal.NewFromInt(5), Quantity: 1})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("unfunded buy error = %v", err)
	}
	_, err = h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "a", Side: exchange.SideSell, Price: decimal.NewFromInt(5), Quantity: 1})
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("uncovered sell error = %v", err)
	}
}

func TestPartialFillAtRestingPrice(t *testing.T) {
	feeRate := decimal.RequireFromString("0.0025")
	h := newMarketHarness(t, feeRate)
	ctx := context.Background()
	expiry := h.clock.Now().Add(30 * 24 * time.Hour)

	h.mint(t, "seller", 100, expiry)
	h.deposit(t, "buyer", 600)

	ask, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "seller", Side: exchange.SideSell, Price: decimal.NewFromInt(5), Quantity: 100})
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	h.clock.advance(time.Second)
	bid, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "buyer", Side: exchange.SideBuy, Price: decimal.NewFromInt(6), Quantity: 60})
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}

	if bid.Status != exchange.OrderFilled || bid.Remaining() != 0 {
		t.Fatalf("buy order after match: %+v", bid)
	}

	settlements := h.settler.all()
	if len(settlements) != 1 {
		t.Fatalf("settlements = %d, want 1", len(settlements))
	}
	settled := settlements[0]
	// The sell rested first, so the trade executes at its price.
	if !settled.Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("trade price = %s, want resting price 5", settled.Price)
	}
	if settled.Quantity != 60 || settled.SellOrderID != ask.OrderID || settled.BuyOrderID != bid.OrderID {
		t.Fatalf("settlement = %+v", settled)
	}
	if !settled.Fee.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("fee = %s, want 0.75", settled.Fee)
	}

	buyer, _ := h.store.GetAccount(ctx, "buyer", testMarket)
	if buyer.Available != 60 {
		t.Fatalf("buyer credits = %d", buyer.Available)
	}
	// 600 deposited, 360 escrowed at limit 6, refunded the 60 difference.
	if !buyer.Cash.Equal(decimal.NewFromInt(300)) || !buyer.Escrow.IsZero() {
		t.Fatalf("buyer cash=%s escrow=%s", buyer.Cash, buyer.Escrow)
	}
	seller, _ := h.store.GetAccount(ctx, "seller", testMarket)
	if seller.Locked != 40 {
		t.Fatalf("seller residual locked = %d, want 40", seller.Locked)
	}
	if !seller.Cash.Equal(decimal.RequireFromString("299.25")) {
		t.Fatalf("seller cash = %s, want 299.25", seller.Cash)
	}

	bids, asks, err := h.market.Snapshot(ctx, 10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("bids still resting: %+v", bids)
	}
	if len(asks) != 1 || asks[0].Quantity != 40 {
		t.Fatalf("ask residual = %+v", asks)
	}
}

func TestIncomingBuyMatchesAtRestingBidPrice(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()
	expiry := h.clock.Now().Add(30 * 24 * time.Hour)

	h.deposit(t, "buyer", 700)
	h.mint(t, "seller", 100, expiry)

	if _, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "buyer", Side: exchange.SideBuy, Price: decimal.NewFromInt(7), Quantity: 100}); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	h.clock.advance(time.Second)
	if _, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "seller", Side: exchange.SideSell, Price: decimal.NewFromInt(5), Quantity: 100}); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	settlements := h.settler.all()
	if len(settlements) != 1 {
		t.Fatalf("settlements = %d, want 1", len(settlements))
	}
	// The bid rested first; the arriving sell trades at 7, not 5.
	if !settlements[0].Price.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("trade price = %s, want resting bid price 7", settlements[0].Price)
	}
}

func TestCancelOrder(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()

	h.deposit(t, "buyer", 500)
	order, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "buyer", Side: exchange.SideBuy, Price: decimal.NewFromInt(5), Quantity: 100})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	account, _ := h.store.GetAccount(ctx, "buyer", testMarket)
	if !account.Escrow.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("escrow = %s before cancel", account.Escrow)
	}

	if _, err := h.market.CancelOrder(ctx, "intruder", order.OrderID); !errors.Is(err, exchange.ErrNotOwner) {
		t.Fatalf("foreign cancel error = %v", err)
	}

	cancelled, err := h.market.CancelOrder(ctx, "buyer", order.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != exchange.OrderCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	account, _ = h.store.GetAccount(ctx, "buyer", testMarket)
	if !account.Escrow.IsZero() || !account.Cash.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("backing not released: cash=%s escrow=%s", account.Cash, account.Escrow)
	}

	if _, err := h.market.CancelOrder(ctx, "buyer", order.OrderID); !errors.Is(err, exchange.ErrOrderNotOpen) {
		t.Fatalf("repeat cancel error = %v", err)
	}
	if _, err := h.market.CancelOrder(ctx, "buyer", "missing"); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("missing cancel error = %v", err)
	}
}

func TestSweepExpiresOrderLifetime(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()
	expiry := h.clock.Now().Add(30 * 24 * time.Hour)

	h.mint(t, "seller", 50, expiry)
	order, err := h.market.PlaceOrder(ctx, PlaceOrderInput{
		AccountID: "seller",
		Side:      exchange.SideSell,
		Price:     decimal.NewFromInt(5),
		Quantity:  50,
		ExpiresAt: h.clock.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	h.clock.advance(2 * time.Minute)
	if err := h.market.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	account, _ := h.store.GetAccount(ctx, "seller", testMarket)
	if account.Locked != 0 || account.Available != 50 {
		t.Fatalf("backing not released: %+v", account)
	}
	var expired *OrderExpired
	for _, event := range h.bus.all() {
		if evt, ok := event.(OrderExpired); ok && evt.OrderID == order.OrderID {
			expired = &evt
		}
	}
	if expired == nil || expired.Reason != ExpiryReasonOrderLifetime {
		t.Fatalf("expiry event = %+v", expired)
	}
}

func TestSweepForceCancelsOrdersOnLotExpiry(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()

	h.mint(t, "seller", 50, h.clock.Now().Add(time.Minute))
	order, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "seller", Side: exchange.SideSell, Price: decimal.NewFromInt(5), Quantity: 50})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	h.clock.advance(2 * time.Minute)
	if err := h.market.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var expired *OrderExpired
	for _, event := range h.bus.all() {
		if evt, ok := event.(OrderExpired); ok && evt.OrderID == order.OrderID {
			expired = &evt
		}
	}
	if expired == nil || expired.Reason != ExpiryReasonLotExpiry {
		t.Fatalf("expiry event = %+v", expired)
	}
	_, asks, _ := h.market.Snapshot(ctx, 10)
	if len(asks) != 0 {
		t.Fatalf("order still resting after lot expiry: %+v", asks)
	}
}

func TestSettlementFailureLeavesResiduals(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	ctx := context.Background()
	expiry := h.clock.Now().Add(30 * 24 * time.Hour)

	h.mint(t, "seller", 100, expiry)
	h.deposit(t, "buyer", 600)
	h.settler.failN = 1

	if _, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "seller", Side: exchange.SideSell, Price: decimal.NewFromInt(5), Quantity: 100}); err != nil {
		t.Fatalf("place sell: %v", err)
	}
	h.clock.advance(time.Second)
	bid, err := h.market.PlaceOrder(ctx, PlaceOrderInput{AccountID: "buyer", Side: exchange.SideBuy, Price: decimal.NewFromInt(5), Quantity: 60})
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	// The match attempt failed; both orders stay at full residual.
	if bid.Status != exchange.OrderOpen || bid.Remaining() != 60 {
		t.Fatalf("buy order after aborted trade: %+v", bid)
	}
	if len(h.settler.all()) != 0 {
		t.Fatalf("settlement recorded despite failure")
	}

	// The next sweep rematches the same pair.
	if err := h.market.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	settlements := h.settler.all()
	if len(settlements) != 1 || settlements[0].Quantity != 60 {
		t.Fatalf("rematch settlements = %+v", settlements)
	}
}

func TestMarketClosedAfterStop(t *testing.T) {
	h := newMarketHarness(t, decimal.Zero)
	h.market.Stop()
	_, err := h.market.PlaceOrder(context.Background(), PlaceOrderInput{AccountID: "a", Side: exchange.SideBuy, Price: decimal.NewFromInt(5), Quantity: 1})
	if !errors.Is(err, exchange.ErrMarketClosed) {
		t.Fatalf("error after stop = %v", err)
	}
}
