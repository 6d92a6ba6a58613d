package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAuth enforces bearer-token authentication for HTTP requests. A
// nil or disabled Service (config.AuthConfig.Mode == "none") passes every
// request through unauthenticated.
func RequireAuth(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(header), "bearer ") {
				token := strings.TrimSpace(header[len("bearer "):])
				principal, err := service.ValidateToken(token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
					return
				}
				if logger != nil {
					logger.Warn("admin token validation failed", "error", err)
				}
			}

			writeUnauthorized(w)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
