package statements

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	apihttp "credit-exchange/internal/api/http"
	"credit-exchange/internal/auth"
	ledger "credit-exchange/internal/ledger/domain"
	"credit-exchange/internal/observability/metrics"
)

// Handler serves trade exports and monthly statements.
type Handler struct {
	service *Service
}

// NewHandler constructs a handler.
func NewHandler(service *Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("statements handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/exports/trades.csv and /api/v1/statements/monthly.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/exports/trades.csv":
		h.handleTradesCSV(w, r)
	case "/api/v1/statements/monthly":
		h.handleMonthly(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTradesCSV(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	accountID, creditType, ok := accountQuery(w, r)
	if !ok {
		metrics.ObserveStatementExport("csv", metrics.ResultError, time.Since(started))
		return
	}
	trades, err := h.service.Trades(r.Context(), accountID, creditType)
	if err != nil {
		metrics.ObserveStatementExport("csv", metrics.ResultError, time.Since(started))
		apihttp.WriteError(w, err, accountID)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("trades-%s-%s.csv", accountID, creditType)))
	if err := WriteTradesCSV(w, accountID, trades); err != nil {
		metrics.ObserveStatementExport("csv", metrics.ResultError, time.Since(started))
		return
	}
	metrics.ObserveStatementExport("csv", metrics.ResultSuccess, time.Since(started))
}

func (h *Handler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		http.Error(w, "format must be pdf or xlsx", http.StatusBadRequest)
		return
	}
	accountID, creditType, ok := accountQuery(w, r)
	if !ok {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(started))
		return
	}
	ref := time.Now().UTC()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			http.Error(w, "month must be formatted YYYY-MM", http.StatusBadRequest)
			metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(started))
			return
		}
		ref = parsed
	}
	statement, err := h.service.Monthly(r.Context(), accountID, creditType, ref)
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(started))
		apihttp.WriteError(w, err, accountID)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "xlsx":
		payload, err = BuildStatementXLSX(statement)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		payload, err = BuildStatementPDF(statement)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(started))
		apihttp.WriteError(w, err, accountID)
		return
	}
	filename := fmt.Sprintf("statement-%s-%s-%s.%s", accountID, creditType, statement.Month.Format("2006-01"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
	metrics.ObserveStatementExport(format, metrics.ResultSuccess, time.Since(started))
}

func accountQuery(w http.ResponseWriter, r *http.Request) (string, ledger.CreditType, bool) {
	accountID := r.URL.Query().Get("account_id")
	creditType := r.URL.Query().Get("credit_type")
	if accountID == "" || creditType == "" {
		http.Error(w, "account_id and credit_type are required", http.StatusBadRequest)
		return "", "", false
	}
	if err := auth.AuthorizeAccount(r.Context(), accountID); err != nil {
		apihttp.WriteError(w, err, accountID)
		return "", "", false
	}
	return accountID, ledger.CreditType(creditType), true
}
