// Package admin guards operator endpoints with a shared token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"bnpl/pkg/platform/httputil"
	"bnpl/pkg/requestcontext"
)

const (
	HeaderToken   = "X-Admin-Token"
	HeaderActorID = "X-Admin-Actor-ID"
)

type contextKeyActorID struct{}

// ActorID returns the operator that issued an admin request, or "".
func ActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(contextKeyActorID{}).(string); ok {
		return actorID
	}
	return ""
}

// RequireToken rejects requests whose X-Admin-Token does not match expected.
// An empty expected token rejects everything.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderToken)
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:       "unauthorized",
					Description: "admin token required",
				})
				return
			}
			if actorID := r.Header.Get(HeaderActorID); actorID != "" {
				ctx = context.WithValue(ctx, contextKeyActorID{}, actorID)
				logger.InfoContext(ctx, "admin_request",
					"actor_id", actorID,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
