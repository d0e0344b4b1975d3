// Package apihttp carries the helpers shared by the HTTP handlers: JSON
// responses and the error-to-status mapping.
package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"credit-exchange/internal/auth"
	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
	verification "credit-exchange/internal/verification/domain"
	withdrawal "credit-exchange/internal/withdrawal/domain"
)

// TimeLayout is the query-parameter time format.
const TimeLayout = time.RFC3339

// ErrorBody is the uniform error response.
type ErrorBody struct {
	Error    string `json:"error"`
	EntityID string `json:"entity_id,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status.
func WriteError(w http.ResponseWriter, err error, entityID string) {
	WriteJSON(w, StatusOf(err), ErrorBody{Error: err.Error(), EntityID: entityID})
}

// StatusOf resolves the HTTP status for a domain error.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidPrice),
		errors.Is(err, exchange.ErrInvalidSide),
		errors.Is(err, verification.ErrInvalidQuantity),
		errors.Is(err, verification.ErrNoEvidence),
		errors.Is(err, withdrawal.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientCredits),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrLotUnavailable),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, exchange.ErrOrderNotOpen),
		errors.Is(err, verification.ErrDuplicateEvidence),
		errors.Is(err, verification.ErrAlreadyDecided),
		errors.Is(err, withdrawal.ErrAlreadySettled):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, exchange.ErrUnknownMarket),
		errors.Is(err, verification.ErrSubmissionNotFound),
		errors.Is(err, withdrawal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrNotOwner),
		errors.Is(err, auth.ErrAccountMismatch):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrMarketClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
