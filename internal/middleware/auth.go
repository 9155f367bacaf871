package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"keygate/internal/auth"
	apierrors "keygate/internal/errors"
	"keygate/internal/store"
	"keygate/internal/tenancy"
)

// actorKey is the context key for the authenticated actor.
const actorKey contextKey = "actor"

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (tenancy.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(tenancy.Actor)
	return actor, ok
}

// Authenticate verifies the Authorization bearer token and places the
// actor in the request context. Requests without a valid token get 401.
func Authenticate(issuer *auth.TokenIssuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
				return
			}

			claims, err := issuer.Verify(token)
			if err != nil {
				render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidToken))
				return
			}

			actor := tenancy.Actor{ID: claims.UserID, Role: claims.Role}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin actors with 403. Must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != store.RoleAdmin {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
