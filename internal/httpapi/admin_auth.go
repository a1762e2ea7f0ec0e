package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminAuth guards the operator API with a static bearer token, compared in
// constant time. An empty token rejects every request; mounting decides
// whether the guard is active at all.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeError(w, r, http.StatusUnauthorized, CodeAuthentication, "admin authorization required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
