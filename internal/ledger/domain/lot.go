package ledger

import "time"

// LotStatus is the closed set of credit lot states.
type LotStatus string

const (
	LotActive  LotStatus = "active"
	LotLocked  LotStatus = "locked"
	LotTraded  LotStatus = "traded"
	LotExpired LotStatus = "expired"
)

// CreditLot is the atomic unit of credit ownership. Immutable once minted
// except for Quantity (reduced on partial consumption), Status and
// LockingOrderID.
type CreditLot struct {
	LotID          string
	OwnerAccountID string
	CreditType     CreditType
	Quantity       int64
	MintedAt       time.Time
	ExpiresAt      time.Time
	Status         LotStatus
	LockingOrderID string
}

// Expired reports whether the lot's validity window has passed.
func (l *CreditLot) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !l.ExpiresAt.After(now)
}

// Clone returns a detached copy.
func (l *CreditLot) Clone() *CreditLot {
	if l == nil {
		return nil
	}
	copy := *l
	return &copy
}

// CanLock reports whether the lot may be reserved by an order.
// A lot is lockable only while Active and unreferenced.
func (l *CreditLot) CanLock() bool {
	return l.Status == LotActive && l.LockingOrderID == ""
}
