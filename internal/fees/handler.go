// internal/fees/handler.go
package fees

import (
	"encoding/json"
	"errors"
	"librarydesk/internal/patron"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type Handler struct {
	service Service
	limiter *rate.Limiter
}

// NewHandler serves the fee routes. limiter throttles pay and refund; nil disables it.
func NewHandler(service Service, limiter *rate.Limiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// Routes are relative to the mount point, usually /fees.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleLateFee)
	r.Get("/payments/{patronID}", h.HandlePaymentHistory)
	r.Get("/transactions/{transactionID}", h.HandleVerifyPayment)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/pay", h.HandlePay)
		r.Post("/refund", h.HandleRefund)
	})
	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleLateFee(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	bookID, err := strconv.Atoi(query.Get("book_id"))
	if err != nil {
		http.Error(w, "invalid book ID", http.StatusBadRequest)
		return
	}

	fee := h.service.LateFee(r.Context(), query.Get("patron_id"), bookID)
	if !fee.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, fee)
		return
	}
	writeJSON(w, http.StatusOK, fee)
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatronID string `json:"patron_id"`
		BookID   int    `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := h.service.PayLateFees(r.Context(), req.PatronID, req.BookID, nil)
	writeJSON(w, resultStatus(result.Success), result)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string          `json:"transaction_id"`
		Amount        decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := h.service.RefundLateFeePayment(r.Context(), req.TransactionID, req.Amount, nil)
	writeJSON(w, resultStatus(result.Success), result)
}

func (h *Handler) HandlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.PaymentHistory(r.Context(), chi.URLParam(r, "patronID"))
	if errors.Is(err, patron.ErrInvalidID) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.VerifyPayment(r.Context(), chi.URLParam(r, "transactionID"), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func resultStatus(success bool) int {
	if success {
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
