package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
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

// Service is the ledger application service. It validates requests, retries
// optimistic-concurrency conflicts a bounded number of times and publishes
// ledger events; all bookkeeping happens inside the store's transactions.
type Service struct {
	store   ledger.Store
	bus     EventPublisher
	clock   Clock
	logger  *log.Logger
	retries int
}

// NewService constructs a ledger service.
func NewService(store ledger.Store, bus EventPublisher, clock Clock, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger service: nil store")
	}
	if clock == nil {
		return nil, errors.New("ledger service: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, bus: bus, clock: clock, logger: logger, retries: defaultConflictRetries}, nil
}

// MintLot creates an Active lot for the account and publishes LotMinted.
func (s *Service) MintLot(ctx context.Context, accountID string, creditType ledger.CreditType, quantity int64, expiresAt time.Time) (*ledger.CreditLot, error) {
	return s.MintLotWithID(ctx, uuid.NewString(), accountID, creditType, quantity, expiresAt)
}

// MintLotWithID mints a lot under a caller-chosen ID. When the ID already
// exists the stored lot is returned unchanged, so callers holding an
// idempotency key can retry a failed flow without minting twice.
func (s *Service) MintLotWithID(ctx context.Context, lotID, accountID string, creditType ledger.CreditType, quantity int64, expiresAt time.Time) (*ledger.CreditLot, error) {
	if quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if lotID == "" {
		lotID = uuid.NewString()
	}
	lot := &ledger.CreditLot{
		LotID:          lotID,
		OwnerAccountID: accountID,
		CreditType:     creditType,
		Quantity:       quantity,
		MintedAt:       s.clock.Now(),
		ExpiresAt:      expiresAt,
		Status:         ledger.LotActive,
	}
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.store.MintLot(ctx, lot)
		if err == nil {
			s.publish(ctx, LotMinted{
				AccountID:  accountID,
				LotID:      lot.LotID,
				CreditType: creditType,
				Quantity:   quantity,
				ExpiresAt:  expiresAt,
				OccurredAt: lot.MintedAt,
			})
			return lot, nil
		}
		if !errors.Is(err, ledger.ErrConflict) {
			return nil, err
		}
		existing, getErr := s.store.GetLot(ctx, lotID)
		if getErr == nil && existing != nil {
			if existing.OwnerAccountID != accountID {
				return nil, ledger.ErrConflict
			}
			return existing, nil
		}
		// Serialization conflict without a stored lot: retry the insert.
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// Balance returns the account, creating it when missing.
func (s *Service) Balance(ctx context.Context, accountID string, creditType ledger.CreditType) (*ledger.Account, error) {
	return s.store.EnsureAccount(ctx, accountID, creditType)
}

// Lots returns the account's lots.
func (s *Service) Lots(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.CreditLot, error) {
	return s.store.ListLots(ctx, accountID, creditType)
}

// Deposit credits cash to the account.
func (s *Service) Deposit(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	return s.withRetry(ctx, func() error {
		return s.store.Deposit(ctx, accountID, creditType, amount)
	})
}

// DebitCash removes cash immediately (withdrawal hold).
func (s *Service) DebitCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return s.withRetry(ctx, func() error {
		return s.store.DebitCash(ctx, accountID, creditType, amount)
	})
}

// CreditCash returns previously held cash.
func (s *Service) CreditCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return s.withRetry(ctx, func() error {
		return s.store.CreditCash(ctx, accountID, creditType, amount)
	})
}

// LockLots reserves lots covering quantity for a sell order.
func (s *Service) LockLots(ctx context.Context, accountID string, creditType ledger.CreditType, quantity int64, orderID string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.store.LockLots(ctx, accountID, creditType, quantity, orderID)
		return err
	})
}

// ReleaseLots returns the order's locked lots to Active.
func (s *Service) ReleaseLots(ctx context.Context, orderID string) error {
	return s.withRetry(ctx, func() error {
		return s.store.ReleaseLots(ctx, orderID)
	})
}

// ReserveCash escrows cash for a buy order.
func (s *Service) ReserveCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return s.withRetry(ctx, func() error {
		return s.store.ReserveCash(ctx, accountID, creditType, amount)
	})
}

// ReleaseCash returns escrowed cash on cancel/expiry.
func (s *Service) ReleaseCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	return s.withRetry(ctx, func() error {
		return s.store.ReleaseCash(ctx, accountID, creditType, amount)
	})
}

// ExpireLots sweeps one market and publishes LotsExpired when anything was
// removed. The returned report carries the orders to force-cancel.
func (s *Service) ExpireLots(ctx context.Context, creditType ledger.CreditType, now time.Time) (*ledger.ExpiryReport, error) {
	report, err := s.store.ExpireLots(ctx, creditType, now)
	if err != nil {
		return nil, err
	}
	if len(report.Expired) > 0 {
		ids := make([]string, 0, len(report.Expired))
		for _, lot := range report.Expired {
			ids = append(ids, lot.LotID)
		}
		s.publish(ctx, LotsExpired{CreditType: creditType, LotIDs: ids, OccurredAt: now})
	}
	return report, nil
}

// Trades returns the account's trade history, newest first.
func (s *Service) Trades(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.Trade, error) {
	return s.store.ListTrades(ctx, accountID, creditType)
}

// withRetry re-runs fn on ErrConflict up to the bounded retry count.
// Business-rule errors are never retried.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ledger.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("ledger: publish event: %v", err)
	}
}
