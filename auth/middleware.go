/*
Package auth authenticates API callers with HS256 bearer tokens.

PURPOSE:
  Turns an Authorization header into a generic.Actor on the request
  context. Authorization decisions (who may update prices, approve or void)
  stay in the dues services, which check Actor.Privileged.

TOKENS:
  {"sub": "<user id>", "role": "representante|staff|admin", "exp": ...}
  staff and admin are privileged.

SEE ALSO:
  - api/server.go: Mounts the middleware on /api
  - dues/engine.go: Services receive the Actor explicitly
*/
package auth

import (
	"net/http"
	"strings"
)

// Middleware validates JWTs and attaches the caller identity.
type Middleware struct {
	Secret      []byte
	ExemptPaths map[string]struct{}
}

// NewMiddleware constructs an auth middleware. Requests to exempt paths
// pass through unauthenticated.
func NewMiddleware(secret []byte, exempt ...string) *Middleware {
	set := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		set[path] = struct{}{}
	}
	return &Middleware{Secret: secret, ExemptPaths: set}
}

// Wrap applies authentication to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.ExemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		role, _ := NormalizeRole(claims.Role)
		ctx := WithIdentity(r.Context(), claims.Subject, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
