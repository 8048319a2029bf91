package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/berasid/backend-beras/internal/common"
)

// CSRF protects cookie-based flows using the double-submit technique.
// Requests authenticated with a bearer token are exempt since they never
// rely on ambient cookie credentials.
type CSRF struct {
	Header string
}

// Middleware enforces that non-idempotent requests include a CSRF token header matching a cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions || method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "missing csrf token", nil)
			return
		}

		cookie, err := r.Cookie(headerName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "missing csrf cookie", nil)
			return
		}

		if constantTimeEqual(token, cookie.Value) != 1 {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "invalid csrf token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) int {
	if len(a) != len(b) {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b))
}
