package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fundflow-server/src/ledger"
	"fundflow-server/src/middleware"
	"fundflow-server/src/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps ledger sentinels to HTTP status codes. Anything else is an
// internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrInsufficientAllocation), errors.Is(err, ledger.ErrInsufficientPool),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrExternalChannelFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, action string) {
	status := statusFor(err)
	log.Printf("ERROR: Failed to %s: %v", action, err)
	if status == http.StatusInternalServerError {
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func decode(w http.ResponseWriter, r *http.Request, v any, action string) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("ERROR: Failed to decode %s request body: %v", action, err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func urlID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Printf("ERROR: Invalid %s in URL: %q", name, raw)
		http.Error(w, fmt.Sprintf("invalid %s", name), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

// amountField parses a major-unit amount from a request body. Amounts travel
// as strings so no precision is lost in JSON numbers.
func amountField(w http.ResponseWriter, raw, field, currency string) (int64, bool) {
	amount, err := parseAmount(raw, currency)
	if err != nil {
		log.Printf("ERROR: Invalid %s %q: %v", field, raw, err)
		http.Error(w, fmt.Sprintf("invalid %s: %v", field, err), http.StatusUnprocessableEntity)
		return 0, false
	}
	return amount, true
}
