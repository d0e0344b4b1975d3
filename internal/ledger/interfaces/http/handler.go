package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apihttp "credit-exchange/internal/api/http"
	"credit-exchange/internal/audit"
	"credit-exchange/internal/auth"
	ledgerapp "credit-exchange/internal/ledger/application"
	ledger "credit-exchange/internal/ledger/domain"
)

// Handler provides account and trade HTTP endpoints.
type Handler struct {
	service     *ledgerapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(service *ledgerapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ledger handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/accounts/* and /api/v1/trades.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/accounts/balance":
		h.handleBalance(w, r)
	case "/api/v1/accounts/lots":
		h.handleLots(w, r)
	case "/api/v1/accounts/deposit":
		h.handleDeposit(w, r)
	case "/api/v1/trades":
		h.handleTrades(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type balanceResponse struct {
	AccountID  string          `json:"account_id"`
	CreditType string          `json:"credit_type"`
	Available  int64           `json:"available"`
	Locked     int64           `json:"locked"`
	Cash       decimal.Decimal `json:"cash"`
	Escrow     decimal.Decimal `json:"escrow"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID, creditType, ok := accountQuery(w, r)
	if !ok {
		return
	}
	account, err := h.service.Balance(r.Context(), accountID, creditType)
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, balanceResponse{
		AccountID:  account.AccountID,
		CreditType: string(account.CreditType),
		Available:  account.Available,
		Locked:     account.Locked,
		Cash:       account.Cash,
		Escrow:     account.Escrow,
	})
}

type lotResponse struct {
	LotID          string    `json:"lot_id"`
	CreditType     string    `json:"credit_type"`
	Quantity       int64     `json:"quantity"`
	Status         string    `json:"status"`
	LockingOrderID string    `json:"locking_order_id,omitempty"`
	MintedAt       time.Time `json:"minted_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (h *Handler) handleLots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID, creditType, ok := accountQuery(w, r)
	if !ok {
		return
	}
	lots, err := h.service.Lots(r.Context(), accountID, creditType)
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	result := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		result = append(result, lotResponse{
			LotID:          lot.LotID,
			CreditType:     string(lot.CreditType),
			Quantity:       lot.Quantity,
			Status:         string(lot.Status),
			LockingOrderID: lot.LockingOrderID,
			MintedAt:       lot.MintedAt,
			ExpiresAt:      lot.ExpiresAt,
		})
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

type depositRequest struct {
	AccountID  string          `json:"account_id"`
	CreditType string          `json:"credit_type"`
	Amount     decimal.Decimal `json:"amount"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req depositRequest
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
	if err := h.service.Deposit(r.Context(), req.AccountID, ledger.CreditType(req.CreditType), req.Amount); err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	account, err := h.service.Balance(r.Context(), req.AccountID, ledger.CreditType(req.CreditType))
	if err != nil {
		apihttp.WriteError(w, err, req.AccountID)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, balanceResponse{
		AccountID:  account.AccountID,
		CreditType: string(account.CreditType),
		Available:  account.Available,
		Locked:     account.Locked,
		Cash:       account.Cash,
		Escrow:     account.Escrow,
	})
	h.logAudit(r, req.AccountID, req.CreditType, "account.deposit", req.AccountID)
}

func (h *Handler) logAudit(r *http.Request, accountID, creditType, action, resourceID string) {
	if h.auditLogger == nil || accountID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		AccountID:    accountID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "account",
		ResourceID:   resourceID,
		CreditType:   creditType,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

type tradeResponse struct {
	TradeID         string          `json:"trade_id"`
	CreditType      string          `json:"credit_type"`
	BuyOrderID      string          `json:"buy_order_id"`
	SellOrderID     string          `json:"sell_order_id"`
	BuyerAccountID  string          `json:"buyer_account_id"`
	SellerAccountID string          `json:"seller_account_id"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Fee             decimal.Decimal `json:"fee"`
	ExecutedAt      time.Time       `json:"executed_at"`
}

func (h *Handler) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID, creditType, ok := accountQuery(w, r)
	if !ok {
		return
	}
	trades, err := h.service.Trades(r.Context(), accountID, creditType)
	if err != nil {
		apihttp.WriteError(w, err, accountID)
		return
	}
	result := make([]tradeResponse, 0, len(trades))
	for _, trade := range trades {
		result = append(result, tradeResponse{
			TradeID:         trade.TradeID,
			CreditType:      string(trade.CreditType),
			BuyOrderID:      trade.BuyOrderID,
			SellOrderID:     trade.SellOrderID,
			BuyerAccountID:  trade.BuyerAccountID,
			SellerAccountID: trade.SellerAccountID,
			Quantity:        trade.Quantity,
			Price:           trade.Price,
			Fee:             trade.Fee,
			ExecutedAt:      trade.ExecutedAt,
		})
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

// accountQuery reads and authorizes the account_id/credit_type pair.
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
