package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goAccount "github.com/MrEthical07/goAccount"
)

// SessionAuthenticator is the part of *goAccount.Engine RequireSession uses.
type SessionAuthenticator interface {
	AuthenticateSession(ctx context.Context, token string) (*goAccount.Session, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session attached by RequireSession.
func SessionFromContext(ctx context.Context) (*goAccount.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*goAccount.Session)
	return s, ok
}

// AccountIDFromContext returns the authenticated account, or "" when the
// request did not pass RequireSession.
func AccountIDFromContext(ctx context.Context) string {
	if s, ok := SessionFromContext(ctx); ok {
		return s.AccountID
	}
	return ""
}

// RequireSession rejects requests without a valid session token with 401.
func RequireSession(authn SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authn == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			s, err := authn.AuthenticateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// ClientIP attaches the request's remote address to the context with
// goAccount.WithClientIP. Put chi's RealIP in front of it when running
// behind a trusted proxy.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(goAccount.WithClientIP(r.Context(), ip)))
	})
}
