// v1
// internal/httpapi/middleware.go
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Rlpzx/auto-riego/internal/control"
)

type contextKey string

const principalKey contextKey = "principal"

// RequireDeviceKey gates device ingress on the shared X-API-Key header. The
// comparison is constant-time so the key cannot be probed byte by byte.
func (h *Handlers) RequireDeviceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if h.DeviceKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.DeviceKey)) != 1 {
			h.Log.Warn("device_key_rejected", slog.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOperator gates manual control on a bearer session token and stores
// the resulting principal in the request context.
func (h *Handlers) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		claims, err := h.Tokens.Verify(token)
		if err != nil {
			h.Log.Warn("token_rejected", slog.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		p := control.Principal{ID: claims.OperatorID, Name: claims.Username}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// principalFrom returns the authenticated principal, or the zero value when
// the gate did not run.
func principalFrom(ctx context.Context) control.Principal {
	p, _ := ctx.Value(principalKey).(control.Principal)
	return p
}
