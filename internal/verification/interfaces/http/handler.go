package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apihttp "credit-exchange/internal/api/http"
	"credit-exchange/internal/audit"
	"credit-exchange/internal/auth"
	ledger "credit-exchange/internal/ledger/domain"
	verificationapp "credit-exchange/internal/verification/application"
	verification "credit-exchange/internal/verification/domain"
)

// Handler provides submission HTTP endpoints.
type Handler struct {
	service     *verificationapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(service *verificationapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("verification handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/submissions and its subpaths.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/submissions" && r.Method == http.MethodPost:
		h.handleSubmit(w, r)
	case r.URL.Path == "/api/v1/submissions" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/submissions/decide" && r.Method == http.MethodPost:
		h.handleDecide(w, r)
	case r.URL.Path == "/api/v1/submissions/stale" && r.Method == http.MethodGet:
		h.handleStale(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type submissionResponse struct {
	SubmissionID     string     `json:"submission_id"`
	AccountID        string     `json:"account_id"`
	CreditType       string     `json:"credit_type"`
	DeclaredQuantity int64      `json:"declared_quantity"`
	EvidenceRefs     []string   `json:"evidence_refs"`
	Status           string     `json:"status"`
	ApprovedQuantity int64      `json:"approved_quantity,omitempty"`
	ConfidenceScore  float64    `json:"confidence_score,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	ResultingLotID   string     `json:"resulting_lot_id,omitempty"`
	VerifierID       string     `json:"verifier_id,omitempty"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

func toSubmissionResponse(submission *verification.Submission) submissionResponse {
	resp := submissionResponse{
		SubmissionID:     submission.SubmissionID,
		AccountID:        submission.AccountID,
		CreditType:       string(submission.CreditType),
		DeclaredQuantity: submission.DeclaredQuantity,
		EvidenceRefs:     submission.EvidenceRefs,
		Status:           string(submission.Status),
		ApprovedQuantity: submission.ApprovedQuantity,
		ConfidenceScore:  submission.ConfidenceScore,
		Reason:           submission.Reason,
		ResultingLotID:   submission.ResultingLotID,
		VerifierID:       submission.VerifierID,
		SubmittedAt:      submission.SubmittedAt,
	}
	if !submission.DecidedAt.IsZero() {
		decided := submission.DecidedAt
		resp.DecidedAt = &decided
	}
	return resp
}

type submitRequest struct {
	AccountID        string   `json:"account_id"`
	CreditType       string   `json:"credit_type"`
	DeclaredQuantity int64    `json:"declared_quantity"`
	EvidenceRefs     []string `json:"evidence_refs"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
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
	submission, err := h.service.Submit(r.Context(), req.AccountID, ledger.CreditType(req.CreditType), req.DeclaredQuantity, req.EvidenceRefs)
	if err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, toSubmissionResponse(submission))
	h.logAudit(r, submission.AccountID, string(submission.CreditType), "submission.create", submission.SubmissionID)
}

func (h *Handler) logAudit(r *http.Request, accountID, creditType, action, submissionID string) {
	if h.auditLogger == nil || accountID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		AccountID:    accountID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "submission",
		ResourceID:   submissionID,
		CreditType:   creditType,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if submissionID := r.URL.Query().Get("submission_id"); submissionID != "" {
		submission, err := h.service.Get(r.Context(), submissionID)
		if err != nil {
			apihttp.WriteError(w, err, submissionID)
			return
		}
		// Verifiers review submissions from any account.
		if !auth.RoleAtLeast(auth.RoleFromContext(r.Context()), auth.RoleVerifier) {
			if err := auth.AuthorizeAccount(r.Context(), submission.AccountID); err != nil {
				apihttp.WriteError(w, err, submissionID)
				return
			}
		}
		apihttp.WriteJSON(w, http.StatusOK, toSubmissionResponse(submission))
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id or submission_id is required", http.StatusBadRequest)
		return
	}
	if err := auth.AuthorizeAccount(r.Context(), accountID); err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	submissions, err := h.service.ListByAccount(r.Context(), accountID)
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	result := make([]submissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		result = append(result, toSubmissionResponse(submission))
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

type decideRequest struct {
	SubmissionID     string  `json:"submission_id"`
	Approve          bool    `json:"approve"`
	ApprovedQuantity int64   `json:"approved_quantity"`
	ConfidenceScore  float64 `json:"confidence_score"`
	Reason           string  `json:"reason"`
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.SubmissionID == "" {
		http.Error(w, "submission_id is required", http.StatusBadRequest)
		return
	}
	verifierID := auth.AccountIDFromContext(r.Context())
	submission, err := h.service.Decide(r.Context(), verificationapp.Decision{
		SubmissionID:     req.SubmissionID,
		VerifierID:       verifierID,
		Approve:          req.Approve,
		ApprovedQuantity: req.ApprovedQuantity,
		ConfidenceScore:  req.ConfidenceScore,
		Reason:           req.Reason,
	})
	if err != nil {
		apihttp.WriteError(w, err, req.SubmissionID)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, toSubmissionResponse(submission))
	action := "submission.reject"
	if req.Approve {
		action = "submission.approve"
	}
	h.logAudit(r, submission.AccountID, string(submission.CreditType), action, submission.SubmissionID)
}

func (h *Handler) handleStale(w http.ResponseWriter, r *http.Request) {
	submissions, err := h.service.Stale(r.Context())
	if err != nil {
		apihttp.WriteError(w, err, "")
		return
	}
	result := make([]submissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		result = append(result, toSubmissionResponse(submission))
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}
