package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
	"credit-exchange/internal/observability/metrics"
	withdrawal "credit-exchange/internal/withdrawal/domain"
)

// CashGateway debits and credits account cash.
type CashGateway interface {
	DebitCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error
	CreditCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// WithdrawalRequested is published when a cash-out intent is recorded.
type WithdrawalRequested struct {
	AccountID    string            `json:"account_id"`
	WithdrawalID string            `json:"withdrawal_id"`
	CreditType   ledger.CreditType `json:"credit_type"`
	Amount       decimal.Decimal   `json:"amount"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// WithdrawalSettled is published on the terminal payment callback.
type WithdrawalSettled struct {
	AccountID    string            `json:"account_id"`
	WithdrawalID string            `json:"withdrawal_id"`
	CreditType   ledger.CreditType `json:"credit_type"`
	Amount       decimal.Decimal   `json:"amount"`
	Status       withdrawal.Status `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Service manages cash-out intents. The amount is held (debited) up front,
// so a Pending intent can never overdraw the account; a Failed callback
// returns the hold.
type Service struct {
	withdrawals withdrawal.Repository
	cash        CashGateway
	bus         EventPublisher
	clock       Clock
	logger      *log.Logger
}

// NewService constructs a withdrawal service.
func NewService(withdrawals withdrawal.Repository, cash CashGateway, bus EventPublisher, clock Clock, logger *log.Logger) (*Service, error) {
	if withdrawals == nil {
		return nil, errors.New("withdrawal service: nil repository")
	}
	if cash == nil {
		return nil, errors.New("withdrawal service: nil cash gateway")
	}
	if clock == nil {
		return nil, errors.New("withdrawal service: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{withdrawals: withdrawals, cash: cash, bus: bus, clock: clock, logger: logger}, nil
}

// Request debits the amount and records a Pending intent.
func (s *Service) Request(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) (*withdrawal.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if err := s.cash.DebitCash(ctx, accountID, creditType, amount); err != nil {
		metrics.ObserveWithdrawal("rejected")
		return nil, err
	}
	intent := &withdrawal.Withdrawal{
		WithdrawalID: uuid.NewString(),
		AccountID:    accountID,
		CreditType:   creditType,
		Amount:       amount,
		Status:       withdrawal.StatusPending,
		RequestedAt:  s.clock.Now(),
	}
	if err := s.withdrawals.Save(ctx, intent); err != nil {
		// Return the hold rather than stranding the cash.
		if creditErr := s.cash.CreditCash(ctx, accountID, creditType, amount); creditErr != nil {
			s.logger.Printf("withdrawal: refund after save failure for %s: %v", intent.WithdrawalID, creditErr)
		}
		return nil, err
	}
	metrics.ObserveWithdrawal("requested")
	s.publish(ctx, WithdrawalRequested{
		AccountID:    intent.AccountID,
		WithdrawalID: intent.WithdrawalID,
		CreditType:   intent.CreditType,
		Amount:       intent.Amount,
		OccurredAt:   intent.RequestedAt,
	})
	return intent.Clone(), nil
}

// HandleCallback applies the payment provider's terminal status. Failed
// callbacks credit the held amount back; terminal intents reject further
// callbacks.
func (s *Service) HandleCallback(ctx context.Context, withdrawalID string, status withdrawal.Status, reason string) (*withdrawal.Withdrawal, error) {
	if status != withdrawal.StatusCompleted && status != withdrawal.StatusFailed {
		return nil, withdrawal.ErrInvalidStatus
	}
	intent, err := s.withdrawals.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if intent.Terminal() {
		return nil, withdrawal.ErrAlreadySettled
	}

	if status == withdrawal.StatusFailed {
		if err := s.cash.CreditCash(ctx, intent.AccountID, intent.CreditType, intent.Amount); err != nil {
			return nil, err
		}
	}
	intent.Status = status
	intent.Reason = reason
	intent.SettledAt = s.clock.Now()
	if err := s.withdrawals.Save(ctx, intent); err != nil {
		return nil, err
	}
	metrics.ObserveWithdrawal(string(status))
	s.publish(ctx, WithdrawalSettled{
		AccountID:    intent.AccountID,
		WithdrawalID: intent.WithdrawalID,
		CreditType:   intent.CreditType,
		Amount:       intent.Amount,
		Status:       intent.Status,
		Reason:       intent.Reason,
		OccurredAt:   intent.SettledAt,
	})
	return intent.Clone(), nil
}

// Get returns one withdrawal intent.
func (s *Service) Get(ctx context.Context, withdrawalID string) (*withdrawal.Withdrawal, error) {
	return s.withdrawals.Get(ctx, withdrawalID)
}

// ListByAccount returns the account's withdrawals, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*withdrawal.Withdrawal, error) {
	return s.withdrawals.ListByAccount(ctx, accountID)
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("withdrawal: publish event: %v", err)
	}
}
