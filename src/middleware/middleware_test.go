package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fundflow-server/src/models"
)

var secret = []byte("test-secret")

func actorEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "no actor", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(actor.Role))
	})
}

func TestJWTAuthMiddleware(t *testing.T) {
	now := time.Now()
	admin := &models.User{ID: 1, Username: "ada", Role: models.RoleAdmin}
	valid, err := IssueToken(secret, admin, time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := IssueToken(secret, admin, time.Hour, now.Add(-2*time.Hour))
	forged, _ := IssueToken([]byte("other"), admin, time.Hour, now)

	testCases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, models.RoleAdmin},
		{"missing", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc", http.StatusUnauthorized, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/budgets", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			JWTAuthMiddleware(secret)(actorEcho()).ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	testCases := []struct {
		role   string
		status int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleUser, http.StatusForbidden},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/pool", nil)
		req = req.WithContext(WithActor(req.Context(), models.Actor{ID: 3, Role: tc.role}))
		rec := httptest.NewRecorder()
		AdminMiddleware(actorEcho()).ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("role %s: status = %d, want %d", tc.role, rec.Code, tc.status)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://ledger.example.org"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/budgets", nil)
	req.Header.Set("Origin", "https://ledger.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ledger.example.org" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/budgets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestReadOnlyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	testCases := []struct {
		enabled bool
		method  string
		path    string
		status  int
	}{
		{false, http.MethodPost, "/api/budgets", http.StatusOK},
		{true, http.MethodGet, "/api/budgets", http.StatusOK},
		{true, http.MethodPost, "/api/login", http.StatusOK},
		{true, http.MethodPost, "/api/plaid/webhook", http.StatusOK},
		{true, http.MethodPost, "/api/budgets", http.StatusServiceUnavailable},
		{true, http.MethodDelete, "/api/budgets/1", http.StatusServiceUnavailable},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		ReadOnlyMiddleware(tc.enabled)(ok).ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%v %s %s: status = %d, want %d", tc.enabled, tc.method, tc.path, rec.Code, tc.status)
		}
	}
}
