package application

import (
	"context"
	"errors"
	"log"
	"time"

	ledger "credit-exchange/internal/ledger/domain"
	"credit-exchange/internal/observability/metrics"
)

const defaultConflictRetries = 3

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Coordinator executes trades against the ledger. Each trade is one atomic
// store transaction: lots move from seller to buyer, escrowed cash settles
// and the trade record is written, or nothing happens at all. The
// coordinator only retries storage conflicts; business failures (a lot
// force-expired between lock and settlement) abort the trade, which the
// matching engine re-attempts on its next cycle.
type Coordinator struct {
	store   ledger.Store
	bus     EventPublisher
	clock   Clock
	logger  *log.Logger
	retries int
}

// NewCoordinator constructs a settlement coordinator.
func NewCoordinator(store ledger.Store, bus EventPublisher, clock Clock, logger *log.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("settlement: nil store")
	}
	if clock == nil {
		return nil, errors.New("settlement: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{store: store, bus: bus, clock: clock, logger: logger, retries: defaultConflictRetries}, nil
}

// Settle commits the trade and notifies both parties. On failure both
// orders keep their pre-match residuals and both parties receive a
// TradeAborted event.
func (c *Coordinator) Settle(ctx context.Context, settlement ledger.TradeSettlement) error {
	start := time.Now()
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err = c.store.SettleTrade(ctx, settlement)
		if err == nil || !errors.Is(err, ledger.ErrConflict) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		c.logger.Printf("settlement: trade %s aborted: %v", settlement.TradeID, err)
		metrics.ObserveSettlement(metrics.ResultError, time.Since(start))
		c.publish(ctx, TradeAborted{
			TradeID:         settlement.TradeID,
			CreditType:      settlement.CreditType,
			BuyOrderID:      settlement.BuyOrderID,
			SellOrderID:     settlement.SellOrderID,
			BuyerAccountID:  settlement.BuyerAccountID,
			SellerAccountID: settlement.SellerAccountID,
			Quantity:        settlement.Quantity,
			Reason:          err.Error(),
			OccurredAt:      c.clock.Now(),
		})
		return err
	}

	metrics.ObserveSettlement(metrics.ResultSuccess, time.Since(start))
	c.publish(ctx, TradeSettled{
		TradeID:         settlement.TradeID,
		CreditType:      settlement.CreditType,
		BuyOrderID:      settlement.BuyOrderID,
		SellOrderID:     settlement.SellOrderID,
		BuyerAccountID:  settlement.BuyerAccountID,
		SellerAccountID: settlement.SellerAccountID,
		Quantity:        settlement.Quantity,
		Price:           settlement.Price,
		Fee:             settlement.Fee,
		OccurredAt:      settlement.ExecutedAt,
	})
	return nil
}

func (c *Coordinator) publish(ctx context.Context, event any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Printf("settlement: publish event: %v", err)
	}
}
