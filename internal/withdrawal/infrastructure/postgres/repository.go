package postgres

import (
	"context"
	"database/sql"
	"errors"

	withdrawal "credit-exchange/internal/withdrawal/domain"
)

// Repository is the Postgres withdrawal repository.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts the withdrawal.
func (r *Repository) Save(ctx context.Context, intent *withdrawal.Withdrawal) error {
	if r == nil || r.db == nil {
		return errors.New("withdrawal repo: nil db")
	}
	if intent == nil || intent.WithdrawalID == "" {
		return withdrawal.ErrNotFound
	}
	var settledAt any
	if !intent.SettledAt.IsZero() {
		settledAt = intent.SettledAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO withdrawals (withdrawal_id, account_id, credit_type, amount, status, reason, requested_at, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (withdrawal_id)
DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason, settled_at = EXCLUDED.settled_at`,
		intent.WithdrawalID, intent.AccountID, intent.CreditType, intent.Amount,
		intent.Status, intent.Reason, intent.RequestedAt.UTC(), settledAt)
	return err
}

// Get loads one withdrawal.
func (r *Repository) Get(ctx context.Context, withdrawalID string) (*withdrawal.Withdrawal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("withdrawal repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectWithdrawal+` WHERE withdrawal_id = $1`, withdrawalID)
	return scanWithdrawal(row)
}

// ListByAccount returns the account's withdrawals, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID string) ([]*withdrawal.Withdrawal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("withdrawal repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectWithdrawal+`
WHERE account_id = $1
ORDER BY requested_at DESC, withdrawal_id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*withdrawal.Withdrawal
	for rows.Next() {
		intent, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, intent)
	}
	return result, rows.Err()
}

const selectWithdrawal = `
SELECT withdrawal_id, account_id, credit_type, amount, status, reason, requested_at, settled_at
FROM withdrawals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*withdrawal.Withdrawal, error) {
	intent := &withdrawal.Withdrawal{}
	var status string
	var settledAt sql.NullTime
	if err := row.Scan(&intent.WithdrawalID, &intent.AccountID, &intent.CreditType,
		&intent.Amount, &status, &intent.Reason, &intent.RequestedAt, &settledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withdrawal.ErrNotFound
		}
		return nil, err
	}
	intent.Status = withdrawal.Status(status)
	if settledAt.Valid {
		intent.SettledAt = settledAt.Time
	}
	return intent, nil
}
