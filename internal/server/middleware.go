package server

import (
	"context"
	"net/http"
	"strings"

	"DebtAllocator/internal/model"
)

type ctxKey int

const callerKey ctxKey = iota

// authMiddleware resolves the bearer token to the calling account.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := s.tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

func callerFrom(ctx context.Context) model.StrategyID {
	caller, _ := ctx.Value(callerKey).(model.StrategyID)
	return caller
}
