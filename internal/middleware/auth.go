package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pliu/letschat/internal/auth"
	"github.com/pliu/letschat/internal/response"
	"github.com/pliu/letschat/internal/service"
)

type contextKey string

const principalKey contextKey = "principal"

// Authenticator resolves an access token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Principal, error)
}

// Auth rejects requests without a valid session token. The token is read
// from the Authorization header or the token cookie.
func Auth(authn Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn.Authenticate(r.Context(), auth.TokenFromRequest(r))
			if err != nil {
				response.Error(w, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*service.Principal)
	return p, ok && p != nil
}

// UserID returns the authenticated user's id, or "" outside Auth.
func UserID(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return ""
}
