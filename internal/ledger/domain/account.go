package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditType identifies an independent credit market (carbon, plastic, water, ...).
type CreditType string

// Account holds per-user bookkeeping for one credit-type market.
// Invariant: Available + Locked equals the summed quantity of the account's
// Active and Locked lots; Cash and Escrow are never negative.
type Account struct {
	AccountID  string
	CreditType CreditType
	Available  int64
	Locked     int64
	Cash       decimal.Decimal
	Escrow     decimal.Decimal
	UpdatedAt  time.Time
}

// AccountKey builds the composite identity of an account.
func AccountKey(accountID string, creditType CreditType) string {
	return accountID + "|" + string(creditType)
}

// NewAccount creates an empty account.
func NewAccount(accountID string, creditType CreditType) *Account {
	return &Account{
		AccountID:  accountID,
		CreditType: creditType,
		Cash:       decimal.Zero,
		Escrow:     decimal.Zero,
		UpdatedAt:  time.Now().UTC(),
	}
}
