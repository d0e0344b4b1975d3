package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Handler serves the audit trail for operators.
type Handler struct {
	repo *Repository
}

// NewHandler constructs a handler.
func NewHandler(repo *Repository) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("audit handler: nil repository")
	}
	return &Handler{repo: repo}, nil
}

// ServeHTTP handles GET /api/v1/audit.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := h.repo.List(r.Context(), r.URL.Query().Get("account_id"), limit)
	if err != nil {
		http.Error(w, "audit query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
