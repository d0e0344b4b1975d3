package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apihttp "credit-exchange/internal/api/http"
	"credit-exchange/internal/audit"
	"credit-exchange/internal/auth"
	exchangeapp "credit-exchange/internal/exchange/application"
	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
)

// Handler provides order and book HTTP endpoints.
type Handler struct {
	manager     *exchangeapp.Manager
	auditLogger audit.Logger
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(manager *exchangeapp.Manager, auditLogger audit.Logger) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("exchange handler: nil manager")
	}
	return &Handler{manager: manager, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/orders, /api/v1/orders/cancel and /api/v1/book.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
		h.handlePlaceOrder(w, r)
	case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodGet:
		h.handleListOrders(w, r)
	case r.URL.Path == "/api/v1/orders/cancel" && r.Method == http.MethodPost:
		h.handleCancelOrder(w, r)
	case r.URL.Path == "/api/v1/book" && r.Method == http.MethodGet:
		h.handleBook(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type placeOrderRequest struct {
	AccountID  string          `json:"account_id"`
	CreditType string          `json:"credit_type"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	ExpiresAt  string          `json:"expires_at,omitempty"`
}

type orderResponse struct {
	OrderID    string          `json:"order_id"`
	AccountID  string          `json:"account_id"`
	CreditType string          `json:"credit_type"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	Filled     int64           `json:"filled"`
	Remaining  int64           `json:"remaining"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func toOrderResponse(order *exchange.Order) orderResponse {
	resp := orderResponse{
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		CreditType: string(order.CreditType),
		Side:       string(order.Side),
		Price:      order.Price,
		Quantity:   order.Quantity,
		Filled:     order.Filled,
		Remaining:  order.Remaining(),
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
	}
	if !order.ExpiresAt.IsZero() {
		expires := order.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
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
	input := exchangeapp.PlaceOrderInput{
		AccountID: req.AccountID,
		Side:      exchange.Side(req.Side),
		Price:     req.Price,
		Quantity:  req.Quantity,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(apihttp.TimeLayout, req.ExpiresAt)
		if err != nil {
			http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
			return
		}
		input.ExpiresAt = expires
	}
	order, err := h.manager.PlaceOrder(r.Context(), ledger.CreditType(req.CreditType), input)
	if err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, toOrderResponse(order))
	h.logAudit(r, order.AccountID, string(order.CreditType), "order.place", order.OrderID)
}

type cancelOrderRequest struct {
	AccountID  string `json:"account_id"`
	CreditType string `json:"credit_type"`
	OrderID    string `json:"order_id"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.CreditType == "" || req.OrderID == "" {
		http.Error(w, "account_id, credit_type and order_id are required", http.StatusBadRequest)
		return
	}
	if err := auth.AuthorizeAccount(r.Context(), req.AccountID); err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	order, err := h.manager.CancelOrder(r.Context(), ledger.CreditType(req.CreditType), req.AccountID, req.OrderID)
	if err != nil {
		apihttp.WriteError(w, err, req.OrderID)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, toOrderResponse(order))
	h.logAudit(r, order.AccountID, string(order.CreditType), "order.cancel", order.OrderID)
}

func (h *Handler) logAudit(r *http.Request, accountID, creditType, action, orderID string) {
	if h.auditLogger == nil || accountID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		AccountID:    accountID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "order",
		ResourceID:   orderID,
		CreditType:   creditType,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	creditType := r.URL.Query().Get("credit_type")
	if accountID == "" || creditType == "" {
		http.Error(w, "account_id and credit_type are required", http.StatusBadRequest)
		return
	}
	if err := auth.AuthorizeAccount(r.Context(), accountID); err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	orders, err := h.manager.OpenOrders(r.Context(), accountID, ledger.CreditType(creditType))
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderResponse(order))
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

type bookResponse struct {
	CreditType string                   `json:"credit_type"`
	Bids       []exchange.SnapshotLevel `json:"bids"`
	Asks       []exchange.SnapshotLevel `json:"asks"`
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	creditType := r.URL.Query().Get("credit_type")
	if creditType == "" {
		http.Error(w, "credit_type is required", http.StatusBadRequest)
		return
	}
	depth := 10
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "depth must be a positive integer", http.StatusBadRequest)
			return
		}
		depth = parsed
	}
	bids, asks, err := h.manager.Snapshot(r.Context(), ledger.CreditType(creditType), depth)
	if err != nil {
		apihttp.WriteError(w, err, creditType)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bookResponse{CreditType: creditType, Bids: bids, Asks: asks})
}
