package verification

import "errors"

var (
	// ErrSubmissionNotFound signals a missing submission.
	ErrSubmissionNotFound = errors.New("verification: submission not found")
	// ErrDuplicateEvidence rejects a submission whose evidence hash was
	// already submitted.
	ErrDuplicateEvidence = errors.New("verification: duplicate evidence")
	// ErrAlreadyDecided rejects a conflicting decision on a terminal
	// submission. A repeated identical decision is a no-op instead.
	ErrAlreadyDecided = errors.New("verification: submission already decided")
	// ErrInvalidQuantity rejects non-positive or over-declared quantities.
	ErrInvalidQuantity = errors.New("verification: invalid quantity")
	// ErrNoEvidence rejects submissions without evidence references.
	ErrNoEvidence = errors.New("verification: no evidence provided")
)
