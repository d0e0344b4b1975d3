package application

import (
	"context"
	"log"

	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
)

// Manager owns one market worker per configured credit type and routes
// requests to them. Markets are independent; nothing orders operations
// across two credit types.
type Manager struct {
	markets map[ledger.CreditType]*Market
	orders  exchange.OrderRepository
	logger  *log.Logger
}

// NewManager builds a stopped market per configured credit type.
func NewManager(cfg MarketsConfig, deps MarketDeps) (*Manager, error) {
	markets := make(map[ledger.CreditType]*Market, len(cfg.Markets))
	for _, name := range cfg.Markets {
		creditType := ledger.CreditType(name)
		market, err := NewMarket(creditType, cfg.FeeRate, cfg.SweepInterval, deps)
		if err != nil {
			return nil, err
		}
		markets[creditType] = market
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{markets: markets, orders: deps.Orders, logger: logger}, nil
}

// Start rebuilds and launches every market; on failure the already started
// markets are stopped again.
func (mgr *Manager) Start(ctx context.Context) error {
	var started []*Market
	for _, market := range mgr.markets {
		if err := market.Start(ctx); err != nil {
			for _, running := range started {
				running.Stop()
			}
			return err
		}
		started = append(started, market)
	}
	return nil
}

// Stop shuts every market worker down.
func (mgr *Manager) Stop() {
	for _, market := range mgr.markets {
		market.Stop()
	}
}

// Market returns the worker for one credit type.
func (mgr *Manager) Market(creditType ledger.CreditType) (*Market, error) {
	market, ok := mgr.markets[creditType]
	if !ok {
		return nil, exchange.ErrUnknownMarket
	}
	return market, nil
}

// CreditTypes lists the configured markets.
func (mgr *Manager) CreditTypes() []ledger.CreditType {
	types := make([]ledger.CreditType, 0, len(mgr.markets))
	for creditType := range mgr.markets {
		types = append(types, creditType)
	}
	return types
}

// PlaceOrder routes to the order's market.
func (mgr *Manager) PlaceOrder(ctx context.Context, creditType ledger.CreditType, input PlaceOrderInput) (*exchange.Order, error) {
	market, err := mgr.Market(creditType)
	if err != nil {
		return nil, err
	}
	return market.PlaceOrder(ctx, input)
}

// CancelOrder routes to the order's market.
func (mgr *Manager) CancelOrder(ctx context.Context, creditType ledger.CreditType, accountID, orderID string) (*exchange.Order, error) {
	market, err := mgr.Market(creditType)
	if err != nil {
		return nil, err
	}
	return market.CancelOrder(ctx, accountID, orderID)
}

// Snapshot returns the market's aggregated book levels.
func (mgr *Manager) Snapshot(ctx context.Context, creditType ledger.CreditType, depth int) (bids, asks []exchange.SnapshotLevel, err error) {
	market, err := mgr.Market(creditType)
	if err != nil {
		return nil, nil, err
	}
	return market.Snapshot(ctx, depth)
}

// GetOrder reads one order from the repository; reads bypass the worker.
func (mgr *Manager) GetOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	return mgr.orders.Get(ctx, orderID)
}

// OpenOrders lists the account's open orders in one market, newest first.
func (mgr *Manager) OpenOrders(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*exchange.Order, error) {
	if _, err := mgr.Market(creditType); err != nil {
		return nil, err
	}
	return mgr.orders.ListOpenByAccount(ctx, accountID, creditType)
}
