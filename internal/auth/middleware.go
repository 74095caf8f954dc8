package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// DevOwnerHeader selects the caller when authentication is disabled.
const DevOwnerHeader = "X-Owner-ID"

// AnonymousOwner is used in development mode when no header is sent.
const AnonymousOwner = "anonymous"

type ownerKey struct{}

// WithOwner stores the caller identity in ctx.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the caller identity set by the middleware.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// Middleware resolves the caller for every request. With disabled set the
// caller comes from DevOwnerHeader instead of a bearer token.
func Middleware(cfg Config, disabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner string
			if disabled {
				owner = strings.TrimSpace(r.Header.Get(DevOwnerHeader))
				if owner == "" {
					owner = AnonymousOwner
				}
			} else {
				var err error
				owner, err = ownerFromRequest(cfg, r)
				if err != nil {
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejecting unauthenticated request")
					code := "Unauthorized"
					if errors.Is(err, ErrTokenExpired) {
						code = "TokenExpired"
					}
					utils.RespondErrorBody(w, http.StatusUnauthorized, utils.ErrorBody{Error: err.Error(), Code: code})
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func ownerFromRequest(cfg Config, r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		// EventSource cannot set headers, so the SSE route accepts a query token.
		token = r.URL.Query().Get("access_token")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return Validate(cfg, token)
}
