package payment

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// APIKeyHeader carries the merchant key on every gateway request.
const APIKeyHeader = "X-API-Key"

// ChargeRequest is the wire form of ProcessPayment.
type ChargeRequest struct {
	PatronID    string          `json:"patron_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RefundRequest is the wire form of RefundPayment.
type RefundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type Handler struct {
	gateway Gateway
	apiKey  string
}

func NewHandler(gateway Gateway, apiKey string) *Handler {
	return &Handler{gateway: gateway, apiKey: apiKey}
}

// Routes mounts the gateway endpoints. Declines are reported with 200 and success=false;
// non-2xx statuses mean the request itself was not processed.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAPIKey)
	r.Post("/payments", h.HandleCharge)
	r.Post("/refunds", h.HandleRefund)
	r.Get("/payments/{transactionID}", h.HandleStatus)
	return r
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	charge, err := h.gateway.ProcessPayment(r.Context(), req.PatronID, req.Amount, req.Description)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, charge)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	refund, err := h.gateway.RefundPayment(r.Context(), req.TransactionID, req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, refund)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gateway.VerifyPaymentStatus(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
