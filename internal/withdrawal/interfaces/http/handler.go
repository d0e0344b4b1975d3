package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apihttp "credit-exchange/internal/api/http"
	"credit-exchange/internal/audit"
	"credit-exchange/internal/auth"
	ledger "credit-exchange/internal/ledger/domain"
	withdrawalapp "credit-exchange/internal/withdrawal/application"
	withdrawal "credit-exchange/internal/withdrawal/domain"
)

// CallbackSecretHeader authenticates the payment provider callback.
const CallbackSecretHeader = "X-Callback-Secret"

// Handler provides withdrawal HTTP endpoints, including the unauthenticated
// payment provider callback guarded by a shared secret.
type Handler struct {
	service        *withdrawalapp.Service
	callbackSecret string
	auditLogger    audit.Logger
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(service *withdrawalapp.Service, callbackSecret string, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("withdrawal handler: nil service")
	}
	if callbackSecret == "" {
		return nil, errors.New("withdrawal handler: empty callback secret")
	}
	return &Handler{service: service, callbackSecret: callbackSecret, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/withdrawals and /callbacks/payments.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/withdrawals" && r.Method == http.MethodPost:
		h.handleRequest(w, r)
	case r.URL.Path == "/api/v1/withdrawals" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/callbacks/payments" && r.Method == http.MethodPost:
		h.handleCallback(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type withdrawalResponse struct {
	WithdrawalID string          `json:"withdrawal_id"`
	AccountID    string          `json:"account_id"`
	CreditType   string          `json:"credit_type"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
}

func toWithdrawalResponse(intent *withdrawal.Withdrawal) withdrawalResponse {
	resp := withdrawalResponse{
		WithdrawalID: intent.WithdrawalID,
		AccountID:    intent.AccountID,
		CreditType:   string(intent.CreditType),
		Amount:       intent.Amount,
		Status:       string(intent.Status),
		Reason:       intent.Reason,
		RequestedAt:  intent.RequestedAt,
	}
	if !intent.SettledAt.IsZero() {
		settled := intent.SettledAt
		resp.SettledAt = &settled
	}
	return resp
}

type withdrawalRequest struct {
	AccountID  string          `json:"account_id"`
	CreditType string          `json:"credit_type"`
	Amount     decimal.Decimal `json:"amount"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.CreditType == "" {
		http.Error(w, "account_id and credit_type are required", http.StatusBadRequest)
		return
	}
	if err := auth.AuthorizeAccount(r.Context(), req.AccountID); err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	intent, err := h.service.Request(r.Context(), req.AccountID, ledger.CreditType(req.CreditType), req.Amount)
	if err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, toWithdrawalResponse(intent))
	h.logAudit(r, intent.AccountID, string(intent.CreditType), "withdrawal.request", intent.WithdrawalID)
}

func (h *Handler) logAudit(r *http.Request, accountID, creditType, action, withdrawalID string) {
	if h.auditLogger == nil || accountID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		AccountID:    accountID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "withdrawal",
		ResourceID:   withdrawalID,
		CreditType:   creditType,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if withdrawalID := r.URL.Query().Get("withdrawal_id"); withdrawalID != "" {
		intent, err := h.service.Get(r.Context(), withdrawalID)
		if err != nil {
			apihttp.WriteError(w, err, withdrawalID)
			return
		}
		if err := auth.AuthorizeAccount(r.Context(), intent.AccountID); err != nil {
			apihttp.WriteError(w, err, withdrawalID)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, toWithdrawalResponse(intent))
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id or withdrawal_id is required", http.StatusBadRequest)
		return
	}
	if err := auth.AuthorizeAccount(r.Context(), accountID); err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	intents, err := h.service.ListByAccount(r.Context(), accountID)
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	result := make([]withdrawalResponse, 0, len(intents))
	for _, intent := range intents {
		result = append(result, toWithdrawalResponse(intent))
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

type callbackRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(CallbackSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.callbackSecret)) != 1 {
		http.Error(w, "invalid callback secret", http.StatusUnauthorized)
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.WithdrawalID == "" {
		http.Error(w, "withdrawal_id is required", http.StatusBadRequest)
		return
	}
	intent, err := h.service.HandleCallback(r.Context(), req.WithdrawalID, withdrawal.Status(req.Status), req.Reason)
	if err != nil {
		apihttp.WriteError(w, err, req.WithdrawalID)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, toWithdrawalResponse(intent))
	h.logAudit(r, intent.AccountID, string(intent.CreditType), "withdrawal.callback."+string(intent.Status), intent.WithdrawalID)
}
