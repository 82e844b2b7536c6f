package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Verify authenticates requests with a bearer token.
//
// Missing or structurally malformed tokens are rejected with 401; tokens with
// a bad signature or past their expiry are rejected with 403. The token is
// read from the Authorization header, or from the "token" query parameter for
// clients that cannot set headers (websocket upgrades).
func Verify(tokens *Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				reason := "invalid"
				status, msg := http.StatusForbidden, "Invalid token"
				switch {
				case errors.Is(err, jwt.ErrTokenMalformed):
					reason = "malformed"
					status, msg = http.StatusUnauthorized, "Malformed token"
				case errors.Is(err, jwt.ErrTokenExpired):
					reason = "expired"
				}
				logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeError(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin rejects requests whose claims do not carry the admin role.
// Must be applied after Verify.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		if !claims.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}

	token := r.URL.Query().Get("token")
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
