package verification

import (
	"context"
	"time"
)

// SubmissionRepository persists submissions.
type SubmissionRepository interface {
	Save(ctx context.Context, submission *Submission) error
	Get(ctx context.Context, submissionID string) (*Submission, error)
	// GetByEvidenceHash returns the submission holding the hash, if any.
	GetByEvidenceHash(ctx context.Context, hash string) (*Submission, error)
	// ListByAccount returns the account's submissions, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]*Submission, error)
	// ListPendingBefore returns pending submissions submitted before the
	// cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Submission, error)
}
