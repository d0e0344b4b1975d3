package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// Store is the Postgres ledger store. Tables: accounts, credit_lots,
// trades (see integration tests for the expected columns). Every method is
// one transaction; row-level locks give the check-and-set discipline and
// serialization failures surface as ledger.ErrConflict.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureAccount creates the account row when missing and returns it.
func (s *Store) EnsureAccount(ctx context.Context, accountID string, creditType ledger.CreditType) (*ledger.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger store: nil db")
	}
	if accountID == "" || creditType == "" {
		return nil, ledger.ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts (account_id, credit_type, available, locked, cash, escrow, updated_at)
VALUES ($1, $2, 0, 0, 0, 0, $3)
ON CONFLICT (account_id, credit_type) DO NOTHING`,
		accountID, creditType, time.Now().UTC())
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetAccount(ctx, accountID, creditType)
}

// GetAccount loads one account.
func (s *Store) GetAccount(ctx context.Context, accountID string, creditType ledger.CreditType) (*ledger.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger store: nil db")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT available, locked, cash, escrow, updated_at
FROM accounts
WHERE account_id = $1 AND credit_type = $2`,
		accountID, creditType)
	account := &ledger.Account{AccountID: accountID, CreditType: creditType}
	if err := row.Scan(&account.Available, &account.Locked, &account.Cash, &account.Escrow, &account.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, mapError(err)
	}
	return account, nil
}

// Deposit credits cash.
func (s *Store) Deposit(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if _, err := s.EnsureAccount(ctx, accountID, creditType); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE accounts SET cash = cash + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2`,
		accountID, creditType, amount, time.Now().UTC())
	return mapError(err)
}

// DebitCash removes cash immediately; the balance guard is in the WHERE
// clause so a shortfall changes no rows.
func (s *Store) DebitCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE accounts SET cash = cash - $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2 AND cash >= $3`,
		accountID, creditType, amount, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		if _, err := s.GetAccount(ctx, accountID, creditType); err != nil {
			return err
		}
		return ledger.ErrInsufficientFunds
	}
	return nil
}

// CreditCash returns previously debited cash.
func (s *Store) CreditCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE accounts SET cash = cash + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2`,
		accountID, creditType, amount, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// MintLot inserts an Active lot and raises the available balance.
func (s *Store) MintLot(ctx context.Context, lot *ledger.CreditLot) error {
	if lot == nil || lot.Quantity <= 0 {
		return ledger.ErrInvalidQuantity
	}
	if _, err := s.EnsureAccount(ctx, lot.OwnerAccountID, lot.CreditType); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO credit_lots (lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id)
VALUES ($1, $2, $3, $4, $5, $6, 'active', '')`,
			lot.LotID, lot.OwnerAccountID, lot.CreditType, lot.Quantity, lot.MintedAt.UTC(), lot.ExpiresAt.UTC())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE accounts SET available = available + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2`,
			lot.OwnerAccountID, lot.CreditType, lot.Quantity, time.Now().UTC())
		return err
	})
}

// GetLot loads one lot.
func (s *Store) GetLot(ctx context.Context, lotID string) (*ledger.CreditLot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id
FROM credit_lots WHERE lot_id = $1`, lotID)
	return scanLot(row)
}

// ListLots returns the account's lots in mint order.
func (s *Store) ListLots(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.CreditLot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id
FROM credit_lots
WHERE owner_account_id = $1 AND credit_type = $2
ORDER BY minted_at ASC, lot_id ASC`,
		accountID, creditType)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var lots []*ledger.CreditLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// LockLots reserves Active lots FIFO inside one transaction. FOR UPDATE on
// the candidate rows makes the check-and-set atomic: a concurrent locker
// either waits and then sees the rows already tagged, or wins first.
func (s *Store) LockLots(ctx context.Context, accountID string, creditType ledger.CreditType, quantity int64, orderID string) ([]*ledger.CreditLot, error) {
	if quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if orderID == "" {
		return nil, ledger.ErrLotUnavailable
	}
	var locked []*ledger.CreditLot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
SELECT lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id
FROM credit_lots
WHERE owner_account_id = $1 AND credit_type = $2
  AND status = 'active' AND locking_order_id = ''
  AND expires_at > $3
ORDER BY minted_at ASC, lot_id ASC
FOR UPDATE`,
			accountID, creditType, now)
		if err != nil {
			return err
		}
		var candidates []*ledger.CreditLot
		var covered int64
		for rows.Next() {
			lot, err := scanLot(rows)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, lot)
			covered += lot.Quantity
			if covered >= quantity {
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if covered < quantity {
			var lockedElsewhere int64
			err := tx.QueryRowContext(ctx, `
SELECT COALESCE(SUM(quantity), 0) FROM credit_lots
WHERE owner_account_id = $1 AND credit_type = $2 AND status = 'locked' AND expires_at > $3`,
				accountID, creditType, now).Scan(&lockedElsewhere)
			if err != nil {
				return err
			}
			if covered+lockedElsewhere >= quantity {
				return ledger.ErrLotUnavailable
			}
			return ledger.ErrInsufficientCredits
		}

		remaining := quantity
		for _, lot := range candidates {
			if lot.Quantity > remaining {
				sliceID := uuid.NewString()
				if _, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET quantity = quantity - $2 WHERE lot_id = $1`,
					lot.LotID, remaining); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_lots (lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id)
VALUES ($1, $2, $3, $4, $5, $6, 'locked', $7)`,
					sliceID, lot.OwnerAccountID, lot.CreditType, remaining, lot.MintedAt.UTC(), lot.ExpiresAt.UTC(), orderID); err != nil {
					return err
				}
				slice := lot.Clone()
				slice.LotID = sliceID
				slice.Quantity = remaining
				slice.Status = ledger.LotLocked
				slice.LockingOrderID = orderID
				locked = append(locked, slice)
				remaining = 0
			} else {
				result, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET status = 'locked', locking_order_id = $2
WHERE lot_id = $1 AND status = 'active' AND locking_order_id = ''`,
					lot.LotID, orderID)
				if err != nil {
					return err
				}
				affected, err := result.RowsAffected()
				if err != nil {
					return err
				}
				if affected == 0 {
					return ledger.ErrLotUnavailable
				}
				lot.Status = ledger.LotLocked
				lot.LockingOrderID = orderID
				locked = append(locked, lot)
				remaining -= lot.Quantity
			}
			if remaining == 0 {
				break
			}
		}

		result, err := tx.ExecContext(ctx, `
UPDATE accounts SET available = available - $3, locked = locked + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2 AND available >= $3`,
			accountID, creditType, quantity, time.Now().UTC())
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ledger.ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// ReleaseLots returns every lot still locked by orderID to Active.
func (s *Store) ReleaseLots(ctx context.Context, orderID string) error {
	if orderID == "" {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Postgres disallows FOR UPDATE with GROUP BY, so lock the plain
		// rows and aggregate per account here.
		rows, err := tx.QueryContext(ctx, `
SELECT owner_account_id, credit_type, quantity
FROM credit_lots
WHERE locking_order_id = $1 AND status = 'locked'
ORDER BY minted_at, lot_id
FOR UPDATE`, orderID)
		if err != nil {
			return err
		}
		type accountLots struct {
			accountID  string
			creditType ledger.CreditType
		}
		sums := make(map[accountLots]int64)
		for rows.Next() {
			var key accountLots
			var quantity int64
			if err := rows.Scan(&key.accountID, &key.creditType, &quantity); err != nil {
				rows.Close()
				return err
			}
			sums[key] += quantity
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET status = 'active', locking_order_id = ''
WHERE locking_order_id = $1 AND status = 'locked'`, orderID); err != nil {
			return err
		}
		for key, quantity := range sums {
			if _, err := tx.ExecContext(ctx, `
UPDATE accounts SET available = available + $3, locked = locked - $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2`,
				key.accountID, key.creditType, quantity, time.Now().UTC()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReserveCash moves cash into escrow for a buy order.
func (s *Store) ReserveCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE accounts SET cash = cash - $3, escrow = escrow + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2 AND cash >= $3`,
		accountID, creditType, amount, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

// ReleaseCash moves escrowed cash back to the cash balance.
func (s *Store) ReleaseCash(ctx context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE accounts SET escrow = escrow - $3, cash = cash + $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2 AND escrow >= $3`,
		accountID, creditType, amount, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return ledger.ErrConflict
	}
	return nil
}

// SettleTrade executes the whole settlement instruction in one transaction:
// lot consumption, buyer lot mint, cash moves and the trade row all commit
// together or roll back together.
func (s *Store) SettleTrade(ctx context.Context, settlement ledger.TradeSettlement) error {
	if settlement.Quantity <= 0 {
		return ledger.ErrInvalidQuantity
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id
FROM credit_lots
WHERE locking_order_id = $1 AND status = 'locked'
ORDER BY minted_at ASC, lot_id ASC
FOR UPDATE`, settlement.SellOrderID)
		if err != nil {
			return err
		}
		var source []*ledger.CreditLot
		var lockedQty int64
		for rows.Next() {
			lot, err := scanLot(rows)
			if err != nil {
				rows.Close()
				return err
			}
			source = append(source, lot)
			lockedQty += lot.Quantity
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if lockedQty < settlement.Quantity {
			return ledger.ErrLotUnavailable
		}

		remaining := settlement.Quantity
		earliestExpiry := time.Time{}
		for _, lot := range source {
			if remaining == 0 {
				break
			}
			consumed := lot.Quantity
			if consumed > remaining {
				consumed = remaining
			}
			if earliestExpiry.IsZero() || lot.ExpiresAt.Before(earliestExpiry) {
				earliestExpiry = lot.ExpiresAt
			}
			if consumed == lot.Quantity {
				if _, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET status = 'traded' WHERE lot_id = $1`, lot.LotID); err != nil {
					return err
				}
			} else {
				if _, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET quantity = quantity - $2 WHERE lot_id = $1`, lot.LotID, consumed); err != nil {
					return err
				}
			}
			remaining -= consumed
		}

		buyerLotID := settlement.BuyerLotID
		if buyerLotID == "" {
			buyerLotID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_lots (lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id)
VALUES ($1, $2, $3, $4, $5, $6, 'active', '')`,
			buyerLotID, settlement.BuyerAccountID, settlement.CreditType, settlement.Quantity,
			settlement.ExecutedAt.UTC(), earliestExpiry.UTC()); err != nil {
			return err
		}

		limitCost := settlement.BuyLimitPrice.Mul(decimal.NewFromInt(settlement.Quantity))
		cost := settlement.Price.Mul(decimal.NewFromInt(settlement.Quantity))
		refund := limitCost.Sub(cost)
		proceeds := cost.Sub(settlement.Fee)
		if proceeds.IsNegative() {
			return ledger.ErrInvalidAmount
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts (account_id, credit_type, available, locked, cash, escrow, updated_at)
VALUES ($1, $2, 0, 0, 0, 0, $3)
ON CONFLICT (account_id, credit_type) DO NOTHING`,
			settlement.BuyerAccountID, settlement.CreditType, time.Now().UTC()); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
UPDATE accounts SET available = available + $3, escrow = escrow - $4, cash = cash + $5, updated_at = $6
WHERE account_id = $1 AND credit_type = $2 AND escrow >= $4`,
			settlement.BuyerAccountID, settlement.CreditType, settlement.Quantity, limitCost, refund, time.Now().UTC())
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ledger.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE accounts SET locked = locked - $3, cash = cash + $4, updated_at = $5
WHERE account_id = $1 AND credit_type = $2`,
			settlement.SellerAccountID, settlement.CreditType, settlement.Quantity, proceeds, time.Now().UTC()); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO trades (trade_id, credit_type, buy_order_id, sell_order_id, buyer_account_id, seller_account_id, quantity, price, fee, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			settlement.TradeID, settlement.CreditType, settlement.BuyOrderID, settlement.SellOrderID,
			settlement.BuyerAccountID, settlement.SellerAccountID, settlement.Quantity,
			settlement.Price, settlement.Fee, settlement.ExecutedAt.UTC())
		return err
	})
}

// ExpireLots sweeps expired lots of one market.
func (s *Store) ExpireLots(ctx context.Context, creditType ledger.CreditType, now time.Time) (*ledger.ExpiryReport, error) {
	report := &ledger.ExpiryReport{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT lot_id, owner_account_id, credit_type, quantity, minted_at, expires_at, status, locking_order_id
FROM credit_lots
WHERE credit_type = $1 AND status IN ('active', 'locked') AND expires_at <= $2
ORDER BY minted_at ASC, lot_id ASC
FOR UPDATE`, creditType, now.UTC())
		if err != nil {
			return err
		}
		var expired []*ledger.CreditLot
		for rows.Next() {
			lot, err := scanLot(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, lot)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		forceCancel := make(map[string]struct{})
		for _, lot := range expired {
			if _, err := tx.ExecContext(ctx, `
UPDATE credit_lots SET status = 'expired' WHERE lot_id = $1`, lot.LotID); err != nil {
				return err
			}
			column := "available"
			if lot.Status == ledger.LotLocked {
				column = "locked"
				if lot.LockingOrderID != "" {
					forceCancel[lot.LockingOrderID] = struct{}{}
				}
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE accounts SET `+column+` = `+column+` - $3, updated_at = $4
WHERE account_id = $1 AND credit_type = $2`,
				lot.OwnerAccountID, creditType, lot.Quantity, time.Now().UTC()); err != nil {
				return err
			}
			report.Expired = append(report.Expired, ledger.ExpiredLot{
				LotID:          lot.LotID,
				OwnerAccountID: lot.OwnerAccountID,
				CreditType:     lot.CreditType,
				Quantity:       lot.Quantity,
				LockingOrderID: lot.LockingOrderID,
			})
		}
		for orderID := range forceCancel {
			report.ForceCancelOrders = append(report.ForceCancelOrders, orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListTrades returns the account's trades, newest first.
func (s *Store) ListTrades(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.Trade, error) {
	return s.listTrades(ctx, accountID, creditType, time.Time{}, time.Time{})
}

// ListTradesBetween returns the account's trades within [from, to).
func (s *Store) ListTradesBetween(ctx context.Context, accountID string, creditType ledger.CreditType, from, to time.Time) ([]*ledger.Trade, error) {
	return s.listTrades(ctx, accountID, creditType, from, to)
}

func (s *Store) listTrades(ctx context.Context, accountID string, creditType ledger.CreditType, from, to time.Time) ([]*ledger.Trade, error) {
	query := `
SELECT trade_id, credit_type, buy_order_id, sell_order_id, buyer_account_id, seller_account_id, quantity, price, fee, executed_at
FROM trades
WHERE credit_type = $1 AND (buyer_account_id = $2 OR seller_account_id = $2)`
	args := []any{creditType, accountID}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += " AND executed_at >= $3"
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		if from.IsZero() {
			query += " AND executed_at < $3"
		} else {
			query += " AND executed_at < $4"
		}
	}
	query += " ORDER BY executed_at DESC, trade_id DESC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var trades []*ledger.Trade
	for rows.Next() {
		trade := &ledger.Trade{}
		if err := rows.Scan(&trade.TradeID, &trade.CreditType, &trade.BuyOrderID, &trade.SellOrderID,
			&trade.BuyerAccountID, &trade.SellerAccountID, &trade.Quantity, &trade.Price, &trade.Fee, &trade.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return errors.New("ledger store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	return mapError(tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*ledger.CreditLot, error) {
	lot := &ledger.CreditLot{}
	var status string
	if err := row.Scan(&lot.LotID, &lot.OwnerAccountID, &lot.CreditType, &lot.Quantity,
		&lot.MintedAt, &lot.ExpiresAt, &status, &lot.LockingOrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	lot.Status = ledger.LotStatus(status)
	return lot, nil
}

// mapError converts Postgres serialization, deadlock and unique-key
// failures to ErrConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return ledger.ErrConflict
		}
	}
	return err
}
