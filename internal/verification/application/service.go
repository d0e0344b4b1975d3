package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	ledger "credit-exchange/internal/ledger/domain"
	"credit-exchange/internal/observability/metrics"
	verification "credit-exchange/internal/verification/domain"
)

// LotMinter mints credit lots on approval. Minting an existing lot ID must
// return the stored lot instead of creating a second one.
type LotMinter interface {
	MintLotWithID(ctx context.Context, lotID, accountID string, creditType ledger.CreditType, quantity int64, expiresAt time.Time) (*ledger.CreditLot, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Decision is a verifier's ruling on one submission.
type Decision struct {
	SubmissionID string
	VerifierID   string
	Approve      bool
	// ApprovedQuantity may be below the declared quantity for
	// lower-confidence evidence; ignored on rejection.
	ApprovedQuantity int64
	ConfidenceScore  float64
	Reason           string
}

// Service drives submissions through the Pending -> {Verified, Rejected}
// state machine. A decision is applied exactly once per submission: on
// approval the ledger mints one lot keyed by the submission, so retried
// decisions never double-mint.
type Service struct {
	submissions    verification.SubmissionRepository
	minter         LotMinter
	bus            EventPublisher
	clock          Clock
	logger         *log.Logger
	creditValidity time.Duration
	staleAfter     time.Duration
}

// Config bounds pipeline policy.
type Config struct {
	// CreditValidity is the lifetime of lots minted on approval.
	CreditValidity time.Duration
	// StaleAfter flags pending submissions older than this window.
	StaleAfter time.Duration
}

// NewService constructs a verification service.
func NewService(submissions verification.SubmissionRepository, minter LotMinter, bus EventPublisher, clock Clock, logger *log.Logger, cfg Config) (*Service, error) {
	if submissions == nil {
		return nil, errors.New("verification service: nil repository")
	}
	if minter == nil {
		return nil, errors.New("verification service: nil minter")
	}
	if clock == nil {
		return nil, errors.New("verification service: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.CreditValidity <= 0 {
		cfg.CreditValidity = 365 * 24 * time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 72 * time.Hour
	}
	return &Service{
		submissions:    submissions,
		minter:         minter,
		bus:            bus,
		clock:          clock,
		logger:         logger,
		creditValidity: cfg.CreditValidity,
		staleAfter:     cfg.StaleAfter,
	}, nil
}

// Submit enters a new claim into the pipeline. Submissions referencing
// evidence already seen are rejected outright.
func (s *Service) Submit(ctx context.Context, accountID string, creditType ledger.CreditType, declaredQuantity int64, evidenceRefs []string) (*verification.Submission, error) {
	if declaredQuantity <= 0 {
		metrics.ObserveSubmission(metrics.ResultError)
		return nil, verification.ErrInvalidQuantity
	}
	hash := verification.HashEvidence(evidenceRefs)
	if hash == verification.HashEvidence(nil) {
		metrics.ObserveSubmission(metrics.ResultError)
		return nil, verification.ErrNoEvidence
	}
	existing, err := s.submissions.GetByEvidenceHash(ctx, hash)
	if err != nil && !errors.Is(err, verification.ErrSubmissionNotFound) {
		return nil, err
	}
	if existing != nil {
		metrics.ObserveSubmission(metrics.ResultError)
		return nil, verification.ErrDuplicateEvidence
	}

	submission := &verification.Submission{
		SubmissionID:     uuid.NewString(),
		AccountID:        accountID,
		CreditType:       creditType,
		DeclaredQuantity: declaredQuantity,
		EvidenceRefs:     append([]string(nil), evidenceRefs...),
		EvidenceHash:     hash,
		Status:           verification.SubmissionPending,
		SubmittedAt:      s.clock.Now(),
	}
	if err := s.submissions.Save(ctx, submission); err != nil {
		return nil, err
	}
	metrics.ObserveSubmission(metrics.ResultSuccess)
	s.publish(ctx, SubmissionReceived{
		AccountID:        submission.AccountID,
		SubmissionID:     submission.SubmissionID,
		CreditType:       submission.CreditType,
		DeclaredQuantity: submission.DeclaredQuantity,
		OccurredAt:       submission.SubmittedAt,
	})
	return submission.Clone(), nil
}

// Decide applies a verifier ruling. Repeating the decision already on
// record returns the stored submission unchanged; a conflicting decision
// on a terminal submission fails with ErrAlreadyDecided.
func (s *Service) Decide(ctx context.Context, decision Decision) (*verification.Submission, error) {
	submission, err := s.submissions.Get(ctx, decision.SubmissionID)
	if err != nil {
		return nil, err
	}
	if submission.Terminal() {
		if s.matchesRecord(submission, decision) {
			return submission.Clone(), nil
		}
		return nil, verification.ErrAlreadyDecided
	}

	now := s.clock.Now()
	if decision.Approve {
		quantity := decision.ApprovedQuantity
		if quantity <= 0 || quantity > submission.DeclaredQuantity {
			return nil, verification.ErrInvalidQuantity
		}
		// The lot ID is derived from the submission, so a decision
		// retried after a failed save reuses the already minted lot.
		lot, err := s.minter.MintLotWithID(ctx, lotIDFor(submission.SubmissionID), submission.AccountID, submission.CreditType, quantity, now.Add(s.creditValidity))
		if err != nil {
			return nil, err
		}
		submission.Status = verification.SubmissionVerified
		submission.ApprovedQuantity = quantity
		submission.ConfidenceScore = decision.ConfidenceScore
		submission.ResultingLotID = lot.LotID
	} else {
		submission.Status = verification.SubmissionRejected
		submission.Reason = decision.Reason
	}
	submission.VerifierID = decision.VerifierID
	submission.DecidedAt = now
	if err := s.submissions.Save(ctx, submission); err != nil {
		return nil, err
	}

	if submission.Status == verification.SubmissionVerified {
		metrics.ObserveVerificationDecision("verified")
		metrics.ObserveLotMinted(string(submission.CreditType))
		s.publish(ctx, SubmissionVerified{
			AccountID:        submission.AccountID,
			SubmissionID:     submission.SubmissionID,
			CreditType:       submission.CreditType,
			ApprovedQuantity: submission.ApprovedQuantity,
			ConfidenceScore:  submission.ConfidenceScore,
			LotID:            submission.ResultingLotID,
			OccurredAt:       now,
		})
	} else {
		metrics.ObserveVerificationDecision("rejected")
		s.publish(ctx, SubmissionRejected{
			AccountID:    submission.AccountID,
			SubmissionID: submission.SubmissionID,
			CreditType:   submission.CreditType,
			Reason:       submission.Reason,
			OccurredAt:   now,
		})
	}
	return submission.Clone(), nil
}

// Get returns one submission.
func (s *Service) Get(ctx context.Context, submissionID string) (*verification.Submission, error) {
	return s.submissions.Get(ctx, submissionID)
}

// ListByAccount returns the account's submissions, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*verification.Submission, error) {
	return s.submissions.ListByAccount(ctx, accountID)
}

// Stale lists pending submissions past the staleness window, oldest
// first. Stale submissions stay pending; verifiers must still act.
func (s *Service) Stale(ctx context.Context) ([]*verification.Submission, error) {
	return s.submissions.ListPendingBefore(ctx, s.clock.Now().Add(-s.staleAfter))
}

// lotIDFor derives the deterministic ID of the lot minted for a submission.
func lotIDFor(submissionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("credit-exchange/submission/"+submissionID)).String()
}

// matchesRecord reports whether the decision restates the stored outcome.
func (s *Service) matchesRecord(submission *verification.Submission, decision Decision) bool {
	if decision.Approve {
		return submission.Status == verification.SubmissionVerified &&
			submission.ApprovedQuantity == decision.ApprovedQuantity
	}
	return submission.Status == verification.SubmissionRejected
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("verification: publish event: %v", err)
	}
}
