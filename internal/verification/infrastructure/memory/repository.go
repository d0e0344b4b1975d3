package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	verification "credit-exchange/internal/verification/domain"
)

// SubmissionRepository is an in-memory submission repository.
type SubmissionRepository struct {
	mu          sync.RWMutex
	submissions map[string]*verification.Submission
	byHash      map[string]string
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{
		submissions: make(map[string]*verification.Submission),
		byHash:      make(map[string]string),
	}
}

// Save upserts a copy of the submission.
func (r *SubmissionRepository) Save(_ context.Context, submission *verification.Submission) error {
	if submission == nil || submission.SubmissionID == "" {
		return verification.ErrSubmissionNotFound
	}
	r.mu.Lock()
	r.submissions[submission.SubmissionID] = submission.Clone()
	if submission.EvidenceHash != "" {
		r.byHash[submission.EvidenceHash] = submission.SubmissionID
	}
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the submission.
func (r *SubmissionRepository) Get(_ context.Context, submissionID string) (*verification.Submission, error) {
	r.mu.RLock()
	submission := r.submissions[submissionID]
	r.mu.RUnlock()
	if submission == nil {
		return nil, verification.ErrSubmissionNotFound
	}
	return submission.Clone(), nil
}

// GetByEvidenceHash returns the submission holding the hash, if any.
func (r *SubmissionRepository) GetByEvidenceHash(_ context.Context, hash string) (*verification.Submission, error) {
	r.mu.RLock()
	submissionID, ok := r.byHash[hash]
	submission := r.submissions[submissionID]
	r.mu.RUnlock()
	if !ok || submission == nil {
		return nil, verification.ErrSubmissionNotFound
	}
	return submission.Clone(), nil
}

// ListByAccount returns the account's submissions, newest first.
func (r *SubmissionRepository) ListByAccount(_ context.Context, accountID string) ([]*verification.Submission, error) {
	r.mu.RLock()
	var result []*verification.Submission
	for _, submission := range r.submissions {
		if submission.AccountID == accountID {
			result = append(result, submission.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})
	return result, nil
}

// ListPendingBefore returns pending submissions older than cutoff, oldest
// first.
func (r *SubmissionRepository) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*verification.Submission, error) {
	r.mu.RLock()
	var result []*verification.Submission
	for _, submission := range r.submissions {
		if submission.Status == verification.SubmissionPending && submission.SubmittedAt.Before(cutoff) {
			result = append(result, submission.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}
