package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	verification "credit-exchange/internal/verification/domain"
)

// SubmissionRepository is the Postgres submission repository. Evidence
// hashes carry a unique index so duplicate submissions fail fast.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Save upserts the submission.
func (r *SubmissionRepository) Save(ctx context.Context, submission *verification.Submission) error {
	if r == nil || r.db == nil {
		return errors.New("submission repo: nil db")
	}
	if submission == nil || submission.SubmissionID == "" {
		return verification.ErrSubmissionNotFound
	}
	refs, err := json.Marshal(submission.EvidenceRefs)
	if err != nil {
		return err
	}
	var decidedAt any
	if !submission.DecidedAt.IsZero() {
		decidedAt = submission.DecidedAt.UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO submissions (
	submission_id, account_id, credit_type, declared_quantity, evidence_refs,
	evidence_hash, status, approved_quantity, confidence_score, reason,
	resulting_lot_id, verifier_id, submitted_at, decided_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (submission_id)
DO UPDATE SET
	status = EXCLUDED.status,
	approved_quantity = EXCLUDED.approved_quantity,
	confidence_score = EXCLUDED.confidence_score,
	reason = EXCLUDED.reason,
	resulting_lot_id = EXCLUDED.resulting_lot_id,
	verifier_id = EXCLUDED.verifier_id,
	decided_at = EXCLUDED.decided_at`,
		submission.SubmissionID, submission.AccountID, submission.CreditType,
		submission.DeclaredQuantity, refs, submission.EvidenceHash,
		submission.Status, submission.ApprovedQuantity, submission.ConfidenceScore,
		submission.Reason, submission.ResultingLotID, submission.VerifierID,
		submission.SubmittedAt.UTC(), decidedAt)
	return err
}

// Get loads one submission.
func (r *SubmissionRepository) Get(ctx context.Context, submissionID string) (*verification.Submission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectSubmission+` WHERE submission_id = $1`, submissionID)
	return scanSubmission(row)
}

// GetByEvidenceHash returns the submission holding the hash, if any.
func (r *SubmissionRepository) GetByEvidenceHash(ctx context.Context, hash string) (*verification.Submission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectSubmission+` WHERE evidence_hash = $1`, hash)
	return scanSubmission(row)
}

// ListByAccount returns the account's submissions, newest first.
func (r *SubmissionRepository) ListByAccount(ctx context.Context, accountID string) ([]*verification.Submission, error) {
	return r.list(ctx, selectSubmission+`
WHERE account_id = $1
ORDER BY submitted_at DESC, submission_id DESC`, accountID)
}

// ListPendingBefore returns pending submissions older than cutoff, oldest
// first.
func (r *SubmissionRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*verification.Submission, error) {
	return r.list(ctx, selectSubmission+`
WHERE status = 'pending' AND submitted_at < $1
ORDER BY submitted_at ASC, submission_id ASC`, cutoff.UTC())
}

const selectSubmission = `
SELECT submission_id, account_id, credit_type, declared_quantity, evidence_refs,
	evidence_hash, status, approved_quantity, confidence_score, reason,
	resulting_lot_id, verifier_id, submitted_at, decided_at
FROM submissions`

func (r *SubmissionRepository) list(ctx context.Context, query string, args ...any) ([]*verification.Submission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*verification.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, submission)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*verification.Submission, error) {
	submission := &verification.Submission{}
	var refs []byte
	var status string
	var decidedAt sql.NullTime
	if err := row.Scan(&submission.SubmissionID, &submission.AccountID, &submission.CreditType,
		&submission.DeclaredQuantity, &refs, &submission.EvidenceHash, &status,
		&submission.ApprovedQuantity, &submission.ConfidenceScore, &submission.Reason,
		&submission.ResultingLotID, &submission.VerifierID, &submission.SubmittedAt, &decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrSubmissionNotFound
		}
		return nil, err
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &submission.EvidenceRefs); err != nil {
			return nil, err
		}
	}
	submission.Status = verification.SubmissionStatus(status)
	if decidedAt.Valid {
		submission.DecidedAt = decidedAt.Time
	}
	return submission, nil
}
