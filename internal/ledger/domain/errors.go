package ledger

import "errors"

var (
	// ErrInvalidQuantity rejects zero or negative credit quantities.
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")
	// ErrInvalidAmount rejects zero or negative cash amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientCredits signals too little unlocked credit balance.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrInsufficientFunds signals too little cash balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrLotUnavailable signals a lot that is not Active or is already
	// referenced by another open order.
	ErrLotUnavailable = errors.New("ledger: lot unavailable")
	// ErrConflict is the optimistic-concurrency retry signal.
	ErrConflict = errors.New("ledger: conflict")
	// ErrNotFound signals a missing account, lot or trade.
	ErrNotFound = errors.New("ledger: not found")
)
