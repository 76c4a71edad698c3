package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shelter/internal/apperr"
	"github.com/shelter/internal/auth"
	"github.com/shelter/internal/logger"
)

// Auth guards protected routes with the authentication gate. A successful
// refresh rotation installs the new credential cookies before the request
// proceeds; every rejection is rendered as a structured error.
func Auth(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := gate.Authenticate(r)
			if res.State == auth.StateRejected {
				WriteAppError(w, res.Err)
				return
			}
			if res.Pair != nil {
				auth.SetTokenCookies(w, *res.Pair)
			}
			ctx := context.WithValue(r.Context(), UserIDKey, res.UserID)
			ctx = context.WithValue(ctx, EmailKey, res.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteAppError renders a taxonomy error as JSON with its status code.
func WriteAppError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.StatusCode)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		logger.Errorf("write app error %s: %v", e.Code, err)
	}
}
