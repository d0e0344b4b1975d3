package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	ledger "credit-exchange/internal/ledger/domain"
)

// SubmissionStatus is the closed set of submission states. The state
// machine is Pending -> {Verified, Rejected}, terminal on either branch.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionVerified SubmissionStatus = "verified"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Submission is an unverified claim of environmental activity. Only the
// verification pipeline mutates it, and never after a terminal decision.
type Submission struct {
	SubmissionID     string
	AccountID        string
	CreditType       ledger.CreditType
	DeclaredQuantity int64
	EvidenceRefs     []string
	EvidenceHash     string
	Status           SubmissionStatus
	ApprovedQuantity int64
	ConfidenceScore  float64
	Reason           string
	ResultingLotID   string
	VerifierID       string
	SubmittedAt      time.Time
	DecidedAt        time.Time
}

// Terminal reports whether the submission reached a final state.
func (s *Submission) Terminal() bool {
	return s.Status == SubmissionVerified || s.Status == SubmissionRejected
}

// StaleAt reports whether the submission is still pending past the window.
func (s *Submission) StaleAt(now time.Time, window time.Duration) bool {
	return s.Status == SubmissionPending && now.Sub(s.SubmittedAt) > window
}

// Clone returns a detached copy.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	copy := *s
	copy.EvidenceRefs = append([]string(nil), s.EvidenceRefs...)
	return &copy
}

// HashEvidence derives the dedup key from the evidence references. Order
// and duplicates in the input do not change the hash.
func HashEvidence(refs []string) string {
	unique := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		unique = append(unique, ref)
	}
	sort.Strings(unique)
	sum := sha256.Sum256([]byte(strings.Join(unique, "\n")))
	return hex.EncodeToString(sum[:])
}
