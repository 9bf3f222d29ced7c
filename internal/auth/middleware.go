package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware authenticates every request through Resolver and stores the
// resulting Context, rejecting with 401 on failure.
func Middleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := resolver.Resolve(r)
			if err != nil || ac == nil {
				if err != nil && !errors.Is(err, ErrNoCredentials) {
					logger.Warn("authentication failed", "error", err)
				}
				respondUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), ac)))
		})
	}
}

// TicketOnlyMiddleware is mounted on /api/ticket/{ticketId}/... — it
// accepts only ticket bearer tokens, rejecting user/agent credentials.
func TicketOnlyMiddleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := resolver.ResolveTicketOnly(r)
			if err != nil || ac == nil {
				respondUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), ac)))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": "no valid authentication provided",
	})
}
