package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/wishlist-rest/pkg/logger"
)

type contextKeyType string

const identityKey contextKeyType = "identity"

// Identity is the caller resolved from a bearer token. The zero value is an
// anonymous caller.
type Identity struct {
	UserID int64
	Role   string
}

// LoggedIn reports whether the identity belongs to a signed-in user.
func (i Identity) LoggedIn() bool {
	return i.UserID > 0
}

// TokenValidator validates a bearer token and returns the caller it names.
type TokenValidator func(token string) (Identity, error)

// Authenticate resolves the Authorization header into an Identity. It never
// rejects: a missing, malformed or invalid token leaves the request anonymous
// so each route can decide whether it needs a signed-in caller.
func Authenticate(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := validate(token)
			if err != nil {
				logger.FromContext(r.Context()).DebugContext(r.Context(), "ignoring invalid bearer token",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = logger.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller stored by Authenticate, or the
// anonymous identity.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id
	}
	return Identity{}
}
