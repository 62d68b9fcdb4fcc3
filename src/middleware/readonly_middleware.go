package middleware

import (
	"net/http"
)

// ReadOnlyMiddleware refuses writes while the ledger is frozen, for example
// during a month-end close. Login and channel webhooks still go through so
// in-flight disbursements keep settling.
func ReadOnlyMiddleware(enabled bool) func(http.Handler) http.Handler {
	allowedPosts := map[string]bool{
		"/api/login":         true,
		"/api/plaid/webhook": true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || r.Method == http.MethodGet || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodPost && allowedPosts[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "ledger is read-only", http.StatusServiceUnavailable)
		})
	}
}
