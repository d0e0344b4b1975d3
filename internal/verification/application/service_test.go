package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ledgerapp "credit-exchange/internal/ledger/application"
	ledger "credit-exchange/internal/ledger/domain"
	ledgermem "credit-exchange/internal/ledger/infrastructure/memory"
	verification "credit-exchange/internal/verification/domain"
	verificationmem "credit-exchange/internal/verification/infrastructure/memory"
)

type mintRecord struct {
	accountID string
	quantity  int64
	expiresAt time.Time
}

type stubMinter struct {
	mu    sync.Mutex
	mints []mintRecord
	byID  map[string]*ledger.CreditLot
	fail  error
}

func (m *stubMinter) MintLotWithID(_ context.Context, lotID, accountID string, creditType ledger.CreditType, quantity int64, expiresAt time.Time) (*ledger.CreditLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	if m.byID == nil {
		m.byID = make(map[string]*ledger.CreditLot)
	}
	if existing, ok := m.byID[lotID]; ok {
		return existing, nil
	}
	m.mints = append(m.mints, mintRecord{accountID: accountID, quantity: quantity, expiresAt: expiresAt})
	lot := &ledger.CreditLot{
		LotID:          lotID,
		OwnerAccountID: accountID,
		CreditType:     creditType,
		Quantity:       quantity,
		ExpiresAt:      expiresAt,
		Status:         ledger.LotActive,
	}
	m.byID[lotID] = lot
	return lot, nil
}

type stubBus struct {
	mu     sync.Mutex
	events []any
}

func (b *stubBus) Publish(_ context.Context, event any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *stubMinter, *stepClock) {
	t.Helper()
	minter := &stubMinter{}
	clock := &stepClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(verificationmem.NewSubmissionRepository(), minter, &stubBus{}, clock, nil, Config{
		CreditValidity: 30 * 24 * time.Hour,
		StaleAfter:     72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, minter, clock
}

func TestSubmitRejectsDuplicateEvidence(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	refs := []string{"ipfs://doc-1", "ipfs://doc-2"}

	if _, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 100, refs); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Same refs in a different order hash identically.
	_, err := service.Submit(ctx, "acct-2", ledger.CreditType("carbon"), 50, []string{"ipfs://doc-2", "ipfs://doc-1"})
	if !errors.Is(err, verification.ErrDuplicateEvidence) {
		t.Fatalf("duplicate error = %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 0, []string{"ref"}); !errors.Is(err, verification.ErrInvalidQuantity) {
		t.Fatalf("zero quantity error = %v", err)
	}
	if _, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, nil); !errors.Is(err, verification.ErrNoEvidence) {
		t.Fatalf("no evidence error = %v", err)
	}
	if _, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, []string{"  ", ""}); !errors.Is(err, verification.ErrNoEvidence) {
		t.Fatalf("blank evidence error = %v", err)
	}
}

func TestDecideApproveMintsOnce(t *testing.T) {
	service, minter, clock := newTestService(t)
	ctx := context.Background()

	submission, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 100, []string{"ref-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	decision := Decision{
		SubmissionID:     submission.SubmissionID,
		VerifierID:       "verifier-1",
		Approve:          true,
		ApprovedQuantity: 80,
		ConfidenceScore:  0.9,
	}
	decided, err := service.Decide(ctx, decision)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != verification.SubmissionVerified || decided.ApprovedQuantity != 80 {
		t.Fatalf("decided = %+v", decided)
	}
	if decided.ResultingLotID == "" {
		t.Fatalf("no lot recorded")
	}
	if len(minter.mints) != 1 || minter.mints[0].quantity != 80 {
		t.Fatalf("mints = %+v", minter.mints)
	}
	wantExpiry := clock.Now().Add(30 * 24 * time.Hour)
	if !minter.mints[0].expiresAt.Equal(wantExpiry) {
		t.Fatalf("lot expiry = %v, want %v", minter.mints[0].expiresAt, wantExpiry)
	}

	// Retrying the identical decision is a no-op, not a second mint.
	again, err := service.Decide(ctx, decision)
	if err != nil {
		t.Fatalf("repeat decide: %v", err)
	}
	if again.ResultingLotID != decided.ResultingLotID || len(minter.mints) != 1 {
		t.Fatalf("repeat decision minted again: %+v", minter.mints)
	}

	// A conflicting ruling on a terminal submission fails.
	_, err = service.Decide(ctx, Decision{SubmissionID: submission.SubmissionID, VerifierID: "verifier-2", Approve: false, Reason: "changed my mind"})
	if !errors.Is(err, verification.ErrAlreadyDecided) {
		t.Fatalf("conflicting decision error = %v", err)
	}
}

func TestDecideApproveBoundsQuantity(t *testing.T) {
	service, minter, _ := newTestService(t)
	ctx := context.Background()

	submission, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 100, []string{"ref-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = service.Decide(ctx, Decision{SubmissionID: submission.SubmissionID, Approve: true, ApprovedQuantity: 150})
	if !errors.Is(err, verification.ErrInvalidQuantity) {
		t.Fatalf("over-approve error = %v", err)
	}
	if len(minter.mints) != 0 {
		t.Fatalf("invalid decision minted lots")
	}
	// The submission stays pending and decidable.
	stored, _ := service.Get(ctx, submission.SubmissionID)
	if stored.Status != verification.SubmissionPending {
		t.Fatalf("status = %s after rejected ruling", stored.Status)
	}
}

func TestDecideReject(t *testing.T) {
	service, minter, _ := newTestService(t)
	ctx := context.Background()

	submission, err := service.Submit(ctx, "acct-1", ledger.CreditType("plastic"), 40, []string{"ref-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	decided, err := service.Decide(ctx, Decision{SubmissionID: submission.SubmissionID, VerifierID: "verifier-1", Reason: "evidence illegible"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != verification.SubmissionRejected || decided.Reason != "evidence illegible" {
		t.Fatalf("decided = %+v", decided)
	}
	if len(minter.mints) != 0 {
		t.Fatalf("rejection minted lots")
	}
}

func TestMintFailureLeavesSubmissionPending(t *testing.T) {
	service, minter, _ := newTestService(t)
	ctx := context.Background()
	minter.fail = errors.New("ledger down")

	submission, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, []string{"ref-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.Decide(ctx, Decision{SubmissionID: submission.SubmissionID, Approve: true, ApprovedQuantity: 10}); err == nil {
		t.Fatalf("decide succeeded despite mint failure")
	}
	stored, _ := service.Get(ctx, submission.SubmissionID)
	if stored.Status != verification.SubmissionPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

type flakySubmissionRepo struct {
	verification.SubmissionRepository
	failDecisionSave bool
}

func (r *flakySubmissionRepo) Save(ctx context.Context, submission *verification.Submission) error {
	if r.failDecisionSave && submission.Status != verification.SubmissionPending {
		r.failDecisionSave = false
		return errors.New("db down")
	}
	return r.SubmissionRepository.Save(ctx, submission)
}

func TestDecideRetryAfterSaveFailureMintsOnce(t *testing.T) {
	ctx := context.Background()
	store := ledgermem.NewStore()
	clock := &stepClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
	minter, err := ledgerapp.NewService(store, nil, clock, nil)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	repo := &flakySubmissionRepo{SubmissionRepository: verificationmem.NewSubmissionRepository(), failDecisionSave: true}
	service, err := NewService(repo, minter, &stubBus{}, clock, nil, Config{CreditValidity: 30 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	submission, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 100, []string{"ref-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	decision := Decision{SubmissionID: submission.SubmissionID, VerifierID: "verifier-1", Approve: true, ApprovedQuantity: 80}

	// The lot mints, then recording the decision fails.
	if _, err := service.Decide(ctx, decision); err == nil {
		t.Fatalf("decide succeeded despite save failure")
	}
	decided, err := service.Decide(ctx, decision)
	if err != nil {
		t.Fatalf("retried decide: %v", err)
	}
	if decided.Status != verification.SubmissionVerified || decided.ResultingLotID == "" {
		t.Fatalf("decided = %+v", decided)
	}

	// The retry reused the lot minted before the failure.
	lots, err := store.ListLots(ctx, "acct-1", ledger.CreditType("carbon"))
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 1 || lots[0].LotID != decided.ResultingLotID {
		t.Fatalf("lots = %+v", lots)
	}
	account, err := store.GetAccount(ctx, "acct-1", ledger.CreditType("carbon"))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Available != 80 {
		t.Fatalf("available = %d, want 80", account.Available)
	}
}

func TestStaleListsOldPendingOnly(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	old, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, []string{"ref-old"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	decidedOld, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, []string{"ref-decided"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.Decide(ctx, Decision{SubmissionID: decidedOld.SubmissionID, Reason: "no"}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	clock.advance(73 * time.Hour)
	if _, err := service.Submit(ctx, "acct-1", ledger.CreditType("carbon"), 10, []string{"ref-fresh"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stale, err := service.Stale(ctx)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].SubmissionID != old.SubmissionID {
		t.Fatalf("stale = %+v", stale)
	}
	// Stale submissions remain pending and decidable.
	if stale[0].Status != verification.SubmissionPending {
		t.Fatalf("stale status = %s", stale[0].Status)
	}
}
