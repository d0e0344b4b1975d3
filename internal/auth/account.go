package auth

import (
	"context"
	"errors"
)

// ErrAccountMismatch indicates the resource belongs to a different account.
var ErrAccountMismatch = errors.New("auth: account mismatch")

// AuthorizeAccount checks that the caller may act on the account. Admins
// may act on any account; everyone else only on their own.
func AuthorizeAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrAccountMismatch
	}
	if RoleAtLeast(RoleFromContext(ctx), RoleAdmin) {
		return nil
	}
	if AccountIDFromContext(ctx) != accountID {
		return ErrAccountMismatch
	}
	return nil
}
