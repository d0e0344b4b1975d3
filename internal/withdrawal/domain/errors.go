package withdrawal

import "errors"

var (
	// ErrNotFound signals a missing withdrawal intent.
	ErrNotFound = errors.New("withdrawal: not found")
	// ErrAlreadySettled rejects callbacks on a terminal intent.
	ErrAlreadySettled = errors.New("withdrawal: already settled")
	// ErrInvalidStatus rejects callback statuses outside the terminal set.
	ErrInvalidStatus = errors.New("withdrawal: invalid status")
)
