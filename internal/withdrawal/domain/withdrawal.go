package withdrawal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// Status is the closed set of withdrawal states. Pending is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Withdrawal is a cash-out intent. The amount is debited from the account
// when the intent is created; a Failed callback credits it back.
type Withdrawal struct {
	WithdrawalID string
	AccountID    string
	CreditType   ledger.CreditType
	Amount       decimal.Decimal
	Status       Status
	Reason       string
	RequestedAt  time.Time
	SettledAt    time.Time
}

// Terminal reports whether the intent reached a final state.
func (w *Withdrawal) Terminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// Clone returns a detached copy.
func (w *Withdrawal) Clone() *Withdrawal {
	if w == nil {
		return nil
	}
	copy := *w
	return &copy
}

// Repository persists withdrawal intents.
type Repository interface {
	Save(ctx context.Context, withdrawal *Withdrawal) error
	Get(ctx context.Context, withdrawalID string) (*Withdrawal, error)
	// ListByAccount returns the account's withdrawals, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]*Withdrawal, error)
}
