package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExpiredLot describes one lot swept by ExpireLots.
type ExpiredLot struct {
	LotID          string
	OwnerAccountID string
	CreditType     CreditType
	Quantity       int64
	LockingOrderID string
}

// ExpiryReport is the outcome of one expiry sweep for a market.
type ExpiryReport struct {
	Expired []ExpiredLot
	// ForceCancelOrders lists open orders whose locked lots expired; the
	// owning market must cancel them and release their remaining resources.
	ForceCancelOrders []string
}

// Store is the transactional bookkeeping API. Every method is atomic: it
// either applies completely or leaves no effect. Implementations map
// contention to ErrConflict (retryable) or ErrLotUnavailable (terminal for
// the losing caller).
type Store interface {
	// EnsureAccount creates the account when missing and returns it.
	EnsureAccount(ctx context.Context, accountID string, creditType CreditType) (*Account, error)
	GetAccount(ctx context.Context, accountID string, creditType CreditType) (*Account, error)

	// Deposit credits cash to an account.
	Deposit(ctx context.Context, accountID string, creditType CreditType, amount decimal.Decimal) error
	// DebitCash removes cash immediately (withdrawal hold).
	DebitCash(ctx context.Context, accountID string, creditType CreditType, amount decimal.Decimal) error
	// CreditCash returns previously debited cash (failed withdrawal).
	CreditCash(ctx context.Context, accountID string, creditType CreditType, amount decimal.Decimal) error

	// MintLot inserts an Active lot and raises the available balance.
	MintLot(ctx context.Context, lot *CreditLot) error
	GetLot(ctx context.Context, lotID string) (*CreditLot, error)
	ListLots(ctx context.Context, accountID string, creditType CreditType) ([]*CreditLot, error)

	// LockLots reserves Active lots FIFO until quantity is covered and tags
	// them with orderID. The whole batch succeeds or nothing is locked.
	LockLots(ctx context.Context, accountID string, creditType CreditType, quantity int64, orderID string) ([]*CreditLot, error)
	// ReleaseLots returns every lot locked by orderID to Active.
	ReleaseLots(ctx context.Context, orderID string) error

	// ReserveCash moves cash into the escrow sub-balance for a buy order.
	ReserveCash(ctx context.Context, accountID string, creditType CreditType, amount decimal.Decimal) error
	// ReleaseCash moves escrowed cash back to the cash balance.
	ReleaseCash(ctx context.Context, accountID string, creditType CreditType, amount decimal.Decimal) error

	// SettleTrade executes the settlement instruction as one atomic unit.
	SettleTrade(ctx context.Context, settlement TradeSettlement) error

	// ExpireLots sweeps lots of one market whose validity has passed.
	ExpireLots(ctx context.Context, creditType CreditType, now time.Time) (*ExpiryReport, error)

	// ListTrades returns the account's trades, newest first.
	ListTrades(ctx context.Context, accountID string, creditType CreditType) ([]*Trade, error)
	// ListTradesBetween returns the account's trades within [from, to).
	ListTradesBetween(ctx context.Context, accountID string, creditType CreditType, from, to time.Time) ([]*Trade, error)
}
