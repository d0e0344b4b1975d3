package application

import (
	"time"

	ledger "credit-exchange/internal/ledger/domain"
)

// SubmissionReceived is published when a new claim enters the pipeline.
type SubmissionReceived struct {
	AccountID        string            `json:"account_id"`
	SubmissionID     string            `json:"submission_id"`
	CreditType       ledger.CreditType `json:"credit_type"`
	DeclaredQuantity int64             `json:"declared_quantity"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// SubmissionVerified is published after an approval minted a lot.
type SubmissionVerified struct {
	AccountID        string            `json:"account_id"`
	SubmissionID     string            `json:"submission_id"`
	CreditType       ledger.CreditType `json:"credit_type"`
	ApprovedQuantity int64             `json:"approved_quantity"`
	ConfidenceScore  float64           `json:"confidence_score"`
	LotID            string            `json:"lot_id"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// SubmissionRejected is published after a rejection; no ledger effect.
type SubmissionRejected struct {
	AccountID    string            `json:"account_id"`
	SubmissionID string            `json:"submission_id"`
	CreditType   ledger.CreditType `json:"credit_type"`
	Reason       string            `json:"reason"`
	OccurredAt   time.Time         `json:"occurred_at"`
}
