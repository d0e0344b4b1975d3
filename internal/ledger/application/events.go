package application

import (
	"time"

	ledger "credit-exchange/internal/ledger/domain"
)

// LotMinted is published when verification mints a new credit lot.
type LotMinted struct {
	AccountID  string            `json:"account_id"`
	LotID      string            `json:"lot_id"`
	CreditType ledger.CreditType `json:"credit_type"`
	Quantity   int64             `json:"quantity"`
	ExpiresAt  time.Time         `json:"expires_at"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// LotsExpired is published after an expiry sweep removed lots.
type LotsExpired struct {
	CreditType ledger.CreditType `json:"credit_type"`
	LotIDs     []string          `json:"lot_ids"`
	OccurredAt time.Time         `json:"occurred_at"`
}
