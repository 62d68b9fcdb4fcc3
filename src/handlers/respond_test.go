package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fundflow-server/src/ledger"
)

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{ledger.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("budget 4: %w", ledger.ErrNotFound), http.StatusNotFound},
		{ledger.ErrNotOwner, http.StatusForbidden},
		{ledger.ErrNotAuthorized, http.StatusForbidden},
		{ledger.ErrInvalidTransition, http.StatusConflict},
		{ledger.ErrInvalidState, http.StatusConflict},
		{ledger.ErrInsufficientAllocation, http.StatusConflict},
		{ledger.ErrInsufficientPool, http.StatusConflict},
		{ledger.ErrInsufficientBalance, http.StatusConflict},
		{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{ledger.ErrInvalidInput, http.StatusUnprocessableEntity},
		{ledger.ErrExternalChannelFailure, http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: password authentication failed"), "load budget")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("body leaked the cause: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: allocation too large", ledger.ErrInvalidAmount), "approve budget")
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "allocation too large") {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}
