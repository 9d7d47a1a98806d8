package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the CRM data routes with a shared API token. A request
// without "Authorization: Bearer <token>" gets 401 with a WWW-Authenticate
// challenge and the API's usual {"detail": "..."} body, so CLI and browser
// clients can surface the message like any other error. The scheme name is
// matched case-insensitively; the token is compared in constant time.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, got, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="crmai"`)
				httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
