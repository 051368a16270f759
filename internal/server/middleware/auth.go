package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is the header checked by Auth.
const APIKeyHeader = "X-API-Key"

// Auth rejects requests without a matching X-API-Key header, or a
// ?api_key= query value for browser websocket clients. An empty apiKey
// disables the check. Paths listed in open bypass it.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
