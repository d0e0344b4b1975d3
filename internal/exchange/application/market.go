package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
	"credit-exchange/internal/observability/metrics"
)

// LedgerGateway is the slice of the ledger the matching engine needs: lot
// locks and cash escrow for order backing, plus the expiry sweep.
type LedgerGateway interface {
	LockLots(ctx context.Context, accountID string, creditType ledger.CreditType, quantity int64, orderID string) error
	ReleaseLots(ctx context.Context, orderID string) error
	ReserveCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error
	ReleaseCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error
	ExpireLots(ctx context.Context, creditType ledger.CreditType, now time.Time) (*ledger.ExpiryReport, error)
}

// Settler executes one trade as an atomic unit against the ledger.
type Settler interface {
	Settle(ctx context.Context, settlement ledger.TradeSettlement) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// PlaceOrderInput is a request to rest a new limit order.
type PlaceOrderInput struct {
	AccountID string
	Side      exchange.Side
	Price     decimal.Decimal
	Quantity  int64
	// ExpiresAt bounds the order's lifetime; zero means good-till-cancel.
	ExpiresAt time.Time
}

// Market is one credit type's matching engine. A single worker goroutine
// owns the book; all mutations are funneled through a serialized task
// queue, so requests are processed in submission order and matches never
// race. Two markets are fully independent.
type Market struct {
	creditType ledger.CreditType
	feeRate    decimal.Decimal

	book    *exchange.Book
	orders  exchange.OrderRepository
	ledger  LedgerGateway
	settler Settler
	bus     EventPublisher
	clock   Clock
	logger  *log.Logger

	sweepEvery time.Duration
	tasks      chan func()
	quit       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// MarketDeps carries the collaborators shared by all markets.
type MarketDeps struct {
	Orders  exchange.OrderRepository
	Ledger  LedgerGateway
	Settler Settler
	Bus     EventPublisher
	Clock   Clock
	Logger  *log.Logger
}

// NewMarket constructs a stopped market for one credit type.
func NewMarket(creditType ledger.CreditType, feeRate decimal.Decimal, sweepEvery time.Duration, deps MarketDeps) (*Market, error) {
	if creditType == "" {
		return nil, exchange.ErrUnknownMarket
	}
	if deps.Orders == nil || deps.Ledger == nil || deps.Settler == nil {
		return nil, errors.New("market: missing dependencies")
	}
	if deps.Clock == nil {
		return nil, errors.New("market: nil clock")
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Second
	}
	return &Market{
		creditType: creditType,
		feeRate:    feeRate,
		book:       exchange.NewBook(),
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		settler:    deps.Settler,
		bus:        deps.Bus,
		clock:      deps.Clock,
		logger:     deps.Logger,
		sweepEvery: sweepEvery,
		tasks:      make(chan func(), 64),
		quit:       make(chan struct{}),
	}, nil
}

// Start rebuilds the book from persisted open orders and launches the
// worker goroutine.
func (m *Market) Start(ctx context.Context) error {
	open, err := m.orders.ListOpenByCreditType(ctx, m.creditType)
	if err != nil {
		return err
	}
	for _, order := range open {
		m.book.Insert(order)
	}
	m.wg.Add(1)
	go m.run()
	m.logger.Printf("market %s: started with %d resting orders", m.creditType, m.book.Len())
	return nil
}

// Stop shuts the worker down and waits for it to drain.
func (m *Market) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	m.wg.Wait()
}

// CreditType identifies the market.
func (m *Market) CreditType() ledger.CreditType {
	return m.creditType
}

func (m *Market) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case task := <-m.tasks:
			task()
		case <-ticker.C:
			m.sweep(context.Background())
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the worker goroutine and waits for its result.
func (m *Market) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case m.tasks <- func() { reply <- fn(ctx) }:
	case <-m.quit:
		return exchange.ErrMarketClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.quit:
		return exchange.ErrMarketClosed
	}
}

// PlaceOrder reserves backing (locked lots for a sell, escrowed cash for a
// buy), rests the order and synchronously attempts matching, so a
// marketable order fills before the call returns.
func (m *Market) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*exchange.Order, error) {
	if input.Quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if !input.Price.IsPositive() {
		return nil, exchange.ErrInvalidPrice
	}
	if input.Side != exchange.SideBuy && input.Side != exchange.SideSell {
		return nil, exchange.ErrInvalidSide
	}
	var placed *exchange.Order
	err := m.do(ctx, func(ctx context.Context) error {
		order := &exchange.Order{
			OrderID:    uuid.NewString(),
			AccountID:  input.AccountID,
			CreditType: m.creditType,
			Side:       input.Side,
			Price:      input.Price,
			Quantity:   input.Quantity,
			Status:     exchange.OrderOpen,
			CreatedAt:  m.clock.Now(),
			ExpiresAt:  input.ExpiresAt,
		}
		if err := m.reserve(ctx, order); err != nil {
			return err
		}
		if err := m.orders.Save(ctx, order); err != nil {
			m.release(ctx, order)
			return err
		}
		m.book.Insert(order)
		m.publish(ctx, OrderPlaced{
			AccountID:  order.AccountID,
			OrderID:    order.OrderID,
			CreditType: order.CreditType,
			Side:       order.Side,
			Price:      order.Price,
			Quantity:   order.Quantity,
			OccurredAt: order.CreatedAt,
		})
		metrics.ObserveOrderPlaced(string(m.creditType), string(order.Side))
		m.matchLoop(ctx)
		placed = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// CancelOrder releases the unfilled portion's backing and marks the order
// Cancelled. Only the owner may cancel, and only while the order is open.
func (m *Market) CancelOrder(ctx context.Context, accountID, orderID string) (*exchange.Order, error) {
	var cancelled *exchange.Order
	err := m.do(ctx, func(ctx context.Context) error {
		order := m.book.Get(orderID)
		if order == nil {
			stored, err := m.orders.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if stored.AccountID != accountID {
				return exchange.ErrNotOwner
			}
			return exchange.ErrOrderNotOpen
		}
		if order.AccountID != accountID {
			return exchange.ErrNotOwner
		}
		m.book.Remove(order.OrderID)
		order.Status = exchange.OrderCancelled
		m.release(ctx, order)
		if err := m.orders.Save(ctx, order); err != nil {
			m.logger.Printf("market %s: persist cancel %s: %v", m.creditType, order.OrderID, err)
		}
		m.publish(ctx, OrderCancelled{
			AccountID:  order.AccountID,
			OrderID:    order.OrderID,
			CreditType: order.CreditType,
			Remaining:  order.Remaining(),
			OccurredAt: m.clock.Now(),
		})
		metrics.ObserveOrderCancelled(string(m.creditType))
		cancelled = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Snapshot aggregates the book's top levels per side.
func (m *Market) Snapshot(ctx context.Context, depth int) (bids, asks []exchange.SnapshotLevel, err error) {
	err = m.do(ctx, func(context.Context) error {
		bids, asks = m.book.Snapshot(depth)
		return nil
	})
	return bids, asks, err
}

// Sweep forces one expiry pass; the worker also runs it periodically.
func (m *Market) Sweep(ctx context.Context) error {
	return m.do(ctx, func(ctx context.Context) error {
		m.sweepLocked(ctx)
		return nil
	})
}

func (m *Market) sweep(ctx context.Context) {
	m.sweepLocked(ctx)
}

// sweepLocked runs on the worker goroutine: retire expired lots and the
// orders they backed, retire orders past their own lifetime, then rematch.
func (m *Market) sweepLocked(ctx context.Context) {
	now := m.clock.Now()
	report, err := m.ledger.ExpireLots(ctx, m.creditType, now)
	if err != nil {
		m.logger.Printf("market %s: expire lots: %v", m.creditType, err)
	} else {
		for _, orderID := range report.ForceCancelOrders {
			if order := m.book.Get(orderID); order != nil {
				m.expireOrder(ctx, order, ExpiryReasonLotExpiry, now)
			}
		}
	}
	for _, order := range m.book.Orders() {
		if order.ExpiredAt(now) {
			m.expireOrder(ctx, order, ExpiryReasonOrderLifetime, now)
		}
	}
	m.matchLoop(ctx)
}

// matchLoop crosses the book while the best bid meets the best ask. Each
// match trades at the resting order's price for the overlapping quantity
// and settles atomically before the next pairing; a settlement failure
// aborts the pass and leaves both orders at their residual quantities for
// the next cycle.
func (m *Market) matchLoop(ctx context.Context) {
	for {
		bid, ask := m.book.BestBid(), m.book.BestAsk()
		if bid == nil || ask == nil || bid.Price.LessThan(ask.Price) {
			return
		}
		now := m.clock.Now()
		if bid.ExpiredAt(now) {
			m.expireOrder(ctx, bid, ExpiryReasonOrderLifetime, now)
			continue
		}
		if ask.ExpiredAt(now) {
			m.expireOrder(ctx, ask, ExpiryReasonOrderLifetime, now)
			continue
		}

		// The resting side is the earlier order; the arriving order
		// trades at the opposite best price, not its own limit.
		price := bid.Price
		if !ask.CreatedAt.After(bid.CreatedAt) {
			price = ask.Price
		}
		quantity := bid.Remaining()
		if ask.Remaining() < quantity {
			quantity = ask.Remaining()
		}
		cost := price.Mul(decimal.NewFromInt(quantity))
		settlement := ledger.TradeSettlement{
			TradeID:         uuid.NewString(),
			CreditType:      m.creditType,
			BuyOrderID:      bid.OrderID,
			SellOrderID:     ask.OrderID,
			BuyerAccountID:  bid.AccountID,
			SellerAccountID: ask.AccountID,
			BuyerLotID:      uuid.NewString(),
			Quantity:        quantity,
			Price:           price,
			BuyLimitPrice:   bid.Price,
			Fee:             cost.Mul(m.feeRate),
			ExecutedAt:      now,
		}
		if err := m.settler.Settle(ctx, settlement); err != nil {
			m.logger.Printf("market %s: trade %s aborted: %v", m.creditType, settlement.TradeID, err)
			metrics.ObserveTradeAborted(string(m.creditType))
			return
		}

		bid.Fill(quantity)
		ask.Fill(quantity)
		if !bid.IsOpen() {
			m.book.Remove(bid.OrderID)
		}
		if !ask.IsOpen() {
			m.book.Remove(ask.OrderID)
		}
		m.persist(ctx, bid)
		m.persist(ctx, ask)
		m.publishFill(ctx, bid, settlement, now)
		m.publishFill(ctx, ask, settlement, now)
		metrics.ObserveTradeSettled(string(m.creditType), quantity)
	}
}

// expireOrder retires an order from the book, releasing the unfilled
// portion's backing.
func (m *Market) expireOrder(ctx context.Context, order *exchange.Order, reason string, now time.Time) {
	m.book.Remove(order.OrderID)
	order.Status = exchange.OrderExpired
	m.release(ctx, order)
	m.persist(ctx, order)
	m.publish(ctx, OrderExpired{
		AccountID:  order.AccountID,
		OrderID:    order.OrderID,
		CreditType: order.CreditType,
		Remaining:  order.Remaining(),
		Reason:     reason,
		OccurredAt: now,
	})
	metrics.ObserveOrderExpired(string(m.creditType), reason)
}

// reserve backs the order: locked lots for a sell, escrowed cash for a buy.
func (m *Market) reserve(ctx context.Context, order *exchange.Order) error {
	if order.Side == exchange.SideSell {
		return m.ledger.LockLots(ctx, order.AccountID, order.CreditType, order.Quantity, order.OrderID)
	}
	return m.ledger.ReserveCash(ctx, order.AccountID, order.CreditType, order.EscrowRemaining())
}

// release frees whatever backs the order's unfilled remainder.
func (m *Market) release(ctx context.Context, order *exchange.Order) {
	var err error
	if order.Side == exchange.SideSell {
		err = m.ledger.ReleaseLots(ctx, order.OrderID)
	} else if remaining := order.EscrowRemaining(); remaining.IsPositive() {
		err = m.ledger.ReleaseCash(ctx, order.AccountID, order.CreditType, remaining)
	}
	if err != nil {
		m.logger.Printf("market %s: release backing for %s: %v", m.creditType, order.OrderID, err)
	}
}

func (m *Market) persist(ctx context.Context, order *exchange.Order) {
	if err := m.orders.Save(ctx, order); err != nil {
		m.logger.Printf("market %s: persist order %s: %v", m.creditType, order.OrderID, err)
	}
}

func (m *Market) publishFill(ctx context.Context, order *exchange.Order, settlement ledger.TradeSettlement, now time.Time) {
	m.publish(ctx, OrderFilled{
		AccountID:  order.AccountID,
		OrderID:    order.OrderID,
		CreditType: order.CreditType,
		TradeID:    settlement.TradeID,
		Quantity:   settlement.Quantity,
		Price:      settlement.Price,
		Filled:     order.Filled,
		Remaining:  order.Remaining(),
		Status:     order.Status,
		OccurredAt: now,
	})
}

func (m *Market) publish(ctx context.Context, event any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.logger.Printf("market %s: publish event: %v", m.creditType, err)
	}
}
