// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"librarydesk/internal/catalog"
	"librarydesk/internal/patron"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/borrow", h.HandleBorrow)
	r.Post("/return", h.HandleReturn)
	r.Get("/patrons/{patronID}/status", h.HandlePatronStatus)
	return r
}

type loanRequest struct {
	PatronID string `json:"patron_id"`
	BookID   int    `json:"book_id"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.service.BorrowBook(r.Context(), req.PatronID, req.BookID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.ReturnBook(r.Context(), req.PatronID, req.BookID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) HandlePatronStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.PatronStatus(r.Context(), chi.URLParam(r, "patronID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, patron.ErrInvalidID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrBookNotFound), errors.Is(err, ErrNoActiveBorrow):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrBookNotAvailable), errors.Is(err, ErrBorrowLimitReached),
		errors.Is(err, ErrAlreadyBorrowed), errors.Is(err, catalog.ErrAvailabilityOutOfRange):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
