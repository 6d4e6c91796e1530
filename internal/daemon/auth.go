package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware requires the configured token on every request. The
// events feed also accepts ?token= because browser websockets cannot set
// headers. An empty token disables the check.
func (s *apiServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(presentedToken(r)), want) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Kind: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if r.URL.Path == "/api/events" {
		return r.URL.Query().Get("token")
	}
	return ""
}
