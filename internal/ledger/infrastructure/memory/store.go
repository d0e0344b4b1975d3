package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// Store is an in-memory ledger store. Every operation runs under one mutex,
// so each call is a single atomic transaction; validation always precedes
// mutation, which gives the all-or-nothing failure semantics of the
// Postgres implementation without a database.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*ledger.Account
	lots     map[string]*ledger.CreditLot
	// lot ids per account key, in mint order (FIFO lock source).
	accountLots map[string][]string
	// lot ids per locking order id, in lock order (FIFO consume source).
	orderLots map[string][]string
	trades    []*ledger.Trade

	settleFault func(ledger.TradeSettlement) error
}

// Option configures the store.
type Option func(*Store)

// WithSettleFault installs a fault hook invoked before SettleTrade mutates
// state. Used by tests to prove settlement atomicity.
func WithSettleFault(hook func(ledger.TradeSettlement) error) Option {
	return func(s *Store) {
		s.settleFault = hook
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[string]*ledger.Account),
		lots:        make(map[string]*ledger.CreditLot),
		accountLots: make(map[string][]string),
		orderLots:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureAccount creates the account when missing and returns a copy.
func (s *Store) EnsureAccount(_ context.Context, accountID string, creditType ledger.CreditType) (*ledger.Account, error) {
	if accountID == "" || creditType == "" {
		return nil, ledger.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.ensureAccountLocked(accountID, creditType)
	return cloneAccount(account), nil
}

// GetAccount returns a copy of the account.
func (s *Store) GetAccount(_ context.Context, accountID string, creditType ledger.CreditType) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil {
		return nil, ledger.ErrNotFound
	}
	return cloneAccount(account), nil
}

// Deposit credits cash.
func (s *Store) Deposit(_ context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.ensureAccountLocked(accountID, creditType)
	account.Cash = account.Cash.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// DebitCash removes cash immediately (withdrawal hold).
func (s *Store) DebitCash(_ context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil {
		return ledger.ErrNotFound
	}
	if account.Cash.LessThan(amount) {
		return ledger.ErrInsufficientFunds
	}
	account.Cash = account.Cash.Sub(amount)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// CreditCash returns previously debited cash.
func (s *Store) CreditCash(_ context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil {
		return ledger.ErrNotFound
	}
	account.Cash = account.Cash.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// MintLot inserts an Active lot and raises the available balance.
func (s *Store) MintLot(_ context.Context, lot *ledger.CreditLot) error {
	if lot == nil || lot.Quantity <= 0 {
		return ledger.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lots[lot.LotID]; exists {
		return ledger.ErrConflict
	}
	account := s.ensureAccountLocked(lot.OwnerAccountID, lot.CreditType)
	stored := lot.Clone()
	stored.Status = ledger.LotActive
	stored.LockingOrderID = ""
	s.lots[stored.LotID] = stored
	key := ledger.AccountKey(stored.OwnerAccountID, stored.CreditType)
	s.accountLots[key] = append(s.accountLots[key], stored.LotID)
	account.Available += stored.Quantity
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// GetLot returns a copy of the lot.
func (s *Store) GetLot(_ context.Context, lotID string) (*ledger.CreditLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot := s.lots[lotID]
	if lot == nil {
		return nil, ledger.ErrNotFound
	}
	return lot.Clone(), nil
}

// ListLots returns copies of the account's lots in mint order.
func (s *Store) ListLots(_ context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.CreditLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.accountLots[ledger.AccountKey(accountID, creditType)]
	lots := make([]*ledger.CreditLot, 0, len(ids))
	for _, id := range ids {
		if lot := s.lots[id]; lot != nil {
			lots = append(lots, lot.Clone())
		}
	}
	return lots, nil
}

// LockLots reserves Active lots FIFO until quantity is covered. When the
// last selected lot overshoots, it is split so the locked quantity equals
// the order quantity exactly. The batch succeeds or nothing is locked.
func (s *Store) LockLots(_ context.Context, accountID string, creditType ledger.CreditType, quantity int64, orderID string) ([]*ledger.CreditLot, error) {
	if quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if orderID == "" {
		return nil, ledger.ErrLotUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil {
		return nil, ledger.ErrInsufficientCredits
	}

	now := time.Now().UTC()
	var selected []*ledger.CreditLot
	var covered, lockedElsewhere int64
	for _, id := range s.accountLots[ledger.AccountKey(accountID, creditType)] {
		lot := s.lots[id]
		if lot == nil || lot.Expired(now) {
			continue
		}
		if lot.Status == ledger.LotLocked {
			lockedElsewhere += lot.Quantity
			continue
		}
		if !lot.CanLock() {
			continue
		}
		selected = append(selected, lot)
		covered += lot.Quantity
		if covered >= quantity {
			break
		}
	}
	if covered < quantity {
		// Enough credits exist but some are referenced by other orders.
		if covered+lockedElsewhere >= quantity {
			return nil, ledger.ErrLotUnavailable
		}
		return nil, ledger.ErrInsufficientCredits
	}

	var locked []*ledger.CreditLot
	remaining := quantity
	for _, lot := range selected {
		if lot.Quantity > remaining {
			// Split: the locked slice becomes its own lot, the parent
			// keeps the rest and its place in the mint order.
			slice := lot.Clone()
			slice.LotID = uuid.NewString()
			slice.Quantity = remaining
			slice.Status = ledger.LotLocked
			slice.LockingOrderID = orderID
			lot.Quantity -= remaining
			s.lots[slice.LotID] = slice
			key := ledger.AccountKey(accountID, creditType)
			s.accountLots[key] = append(s.accountLots[key], slice.LotID)
			locked = append(locked, slice)
			remaining = 0
		} else {
			lot.Status = ledger.LotLocked
			lot.LockingOrderID = orderID
			locked = append(locked, lot)
			remaining -= lot.Quantity
		}
		if remaining == 0 {
			break
		}
	}

	account.Available -= quantity
	account.Locked += quantity
	account.UpdatedAt = time.Now().UTC()

	result := make([]*ledger.CreditLot, 0, len(locked))
	for _, lot := range locked {
		s.orderLots[orderID] = append(s.orderLots[orderID], lot.LotID)
		result = append(result, lot.Clone())
	}
	return result, nil
}

// ReleaseLots returns every lot still locked by orderID to Active.
func (s *Store) ReleaseLots(_ context.Context, orderID string) error {
	if orderID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.orderLots[orderID] {
		lot := s.lots[id]
		if lot == nil || lot.Status != ledger.LotLocked || lot.LockingOrderID != orderID {
			continue
		}
		lot.Status = ledger.LotActive
		lot.LockingOrderID = ""
		if account := s.accounts[ledger.AccountKey(lot.OwnerAccountID, lot.CreditType)]; account != nil {
			account.Locked -= lot.Quantity
			account.Available += lot.Quantity
			account.UpdatedAt = time.Now().UTC()
		}
	}
	delete(s.orderLots, orderID)
	return nil
}

// ReserveCash moves cash into escrow for a buy order.
func (s *Store) ReserveCash(_ context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil || account.Cash.LessThan(amount) {
		return ledger.ErrInsufficientFunds
	}
	account.Cash = account.Cash.Sub(amount)
	account.Escrow = account.Escrow.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseCash moves escrowed cash back to the cash balance.
func (s *Store) ReleaseCash(_ context.Context, accountID string, creditType ledger.CreditType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[ledger.AccountKey(accountID, creditType)]
	if account == nil {
		return ledger.ErrNotFound
	}
	if account.Escrow.LessThan(amount) {
		return ledger.ErrConflict
	}
	account.Escrow = account.Escrow.Sub(amount)
	account.Cash = account.Cash.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// SettleTrade executes the settlement instruction atomically: validation
// first, then all mutations under the same lock.
func (s *Store) SettleTrade(_ context.Context, settlement ledger.TradeSettlement) error {
	if settlement.Quantity <= 0 {
		return ledger.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seller := s.accounts[ledger.AccountKey(settlement.SellerAccountID, settlement.CreditType)]
	if seller == nil {
		return ledger.ErrNotFound
	}
	buyer := s.ensureAccountLocked(settlement.BuyerAccountID, settlement.CreditType)

	// Gather the sell order's locked lots in lock order.
	var sourceLots []*ledger.CreditLot
	var lockedQty int64
	for _, id := range s.orderLots[settlement.SellOrderID] {
		lot := s.lots[id]
		if lot == nil || lot.Status != ledger.LotLocked || lot.LockingOrderID != settlement.SellOrderID {
			continue
		}
		sourceLots = append(sourceLots, lot)
		lockedQty += lot.Quantity
	}
	if lockedQty < settlement.Quantity {
		// A lot was force-expired between lock and settlement.
		return ledger.ErrLotUnavailable
	}

	limitCost := settlement.BuyLimitPrice.Mul(decimal.NewFromInt(settlement.Quantity))
	cost := settlement.Price.Mul(decimal.NewFromInt(settlement.Quantity))
	if buyer.Escrow.LessThan(limitCost) {
		return ledger.ErrInsufficientFunds
	}
	if settlement.Fee.GreaterThan(cost) {
		return ledger.ErrInvalidAmount
	}

	if s.settleFault != nil {
		if err := s.settleFault(settlement); err != nil {
			return err
		}
	}

	// Consume seller lots FIFO, splitting the last one when needed.
	remaining := settlement.Quantity
	earliestExpiry := time.Time{}
	for _, lot := range sourceLots {
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
			lot.Status = ledger.LotTraded
		} else {
			lot.Quantity -= consumed
		}
		remaining -= consumed
	}
	s.compactOrderLots(settlement.SellOrderID)
	seller.Locked -= settlement.Quantity

	// Mint the buyer's lot; it inherits the earliest expiry of the
	// consumed lots so trading never extends credit validity.
	buyerLotID := settlement.BuyerLotID
	if buyerLotID == "" {
		buyerLotID = uuid.NewString()
	}
	buyerLot := &ledger.CreditLot{
		LotID:          buyerLotID,
		OwnerAccountID: settlement.BuyerAccountID,
		CreditType:     settlement.CreditType,
		Quantity:       settlement.Quantity,
		MintedAt:       settlement.ExecutedAt,
		ExpiresAt:      earliestExpiry,
		Status:         ledger.LotActive,
	}
	s.lots[buyerLot.LotID] = buyerLot
	buyerKey := ledger.AccountKey(settlement.BuyerAccountID, settlement.CreditType)
	s.accountLots[buyerKey] = append(s.accountLots[buyerKey], buyerLot.LotID)
	buyer.Available += settlement.Quantity

	// Cash: escrow funds the trade at the execution price, the limit
	// difference flows back to the buyer, the seller receives cost - fee.
	buyer.Escrow = buyer.Escrow.Sub(limitCost)
	buyer.Cash = buyer.Cash.Add(limitCost.Sub(cost))
	seller.Cash = seller.Cash.Add(cost.Sub(settlement.Fee))
	now := time.Now().UTC()
	buyer.UpdatedAt = now
	seller.UpdatedAt = now

	s.trades = append(s.trades, settlement.Trade())
	return nil
}

// ExpireLots sweeps expired lots of one market.
func (s *Store) ExpireLots(_ context.Context, creditType ledger.CreditType, now time.Time) (*ledger.ExpiryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &ledger.ExpiryReport{}
	forceCancel := make(map[string]struct{})
	for _, lot := range s.lots {
		if lot.CreditType != creditType || !lot.Expired(now) {
			continue
		}
		switch lot.Status {
		case ledger.LotActive:
			lot.Status = ledger.LotExpired
			if account := s.accounts[ledger.AccountKey(lot.OwnerAccountID, creditType)]; account != nil {
				account.Available -= lot.Quantity
				account.UpdatedAt = now
			}
		case ledger.LotLocked:
			lot.Status = ledger.LotExpired
			if account := s.accounts[ledger.AccountKey(lot.OwnerAccountID, creditType)]; account != nil {
				account.Locked -= lot.Quantity
				account.UpdatedAt = now
			}
			if lot.LockingOrderID != "" {
				forceCancel[lot.LockingOrderID] = struct{}{}
				s.removeOrderLot(lot.LockingOrderID, lot.LotID)
			}
		default:
			continue
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
	sort.Strings(report.ForceCancelOrders)
	return report, nil
}

// ListTrades returns the account's trades, newest first.
func (s *Store) ListTrades(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*ledger.Trade, error) {
	return s.ListTradesBetween(ctx, accountID, creditType, time.Time{}, time.Time{})
}

// ListTradesBetween returns the account's trades within [from, to), newest
// first. Zero bounds are open.
func (s *Store) ListTradesBetween(_ context.Context, accountID string, creditType ledger.CreditType, from, to time.Time) ([]*ledger.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*ledger.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		trade := s.trades[i]
		if trade.CreditType != creditType {
			continue
		}
		if trade.BuyerAccountID != accountID && trade.SellerAccountID != accountID {
			continue
		}
		if !from.IsZero() && trade.ExecutedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !trade.ExecutedAt.Before(to) {
			continue
		}
		copy := *trade
		result = append(result, &copy)
	}
	return result, nil
}

func (s *Store) ensureAccountLocked(accountID string, creditType ledger.CreditType) *ledger.Account {
	key := ledger.AccountKey(accountID, creditType)
	account := s.accounts[key]
	if account == nil {
		account = ledger.NewAccount(accountID, creditType)
		s.accounts[key] = account
	}
	return account
}

func (s *Store) compactOrderLots(orderID string) {
	ids := s.orderLots[orderID]
	kept := ids[:0]
	for _, id := range ids {
		lot := s.lots[id]
		if lot != nil && lot.Status == ledger.LotLocked && lot.LockingOrderID == orderID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s.orderLots, orderID)
		return
	}
	s.orderLots[orderID] = kept
}

func (s *Store) removeOrderLot(orderID, lotID string) {
	ids := s.orderLots[orderID]
	kept := ids[:0]
	for _, id := range ids {
		if id != lotID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s.orderLots, orderID)
		return
	}
	s.orderLots[orderID] = kept
}

func cloneAccount(a *ledger.Account) *ledger.Account {
	if a == nil {
		return nil
	}
	copy := *a
	return &copy
}
