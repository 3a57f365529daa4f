package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/session"
	"google.golang.org/grpc/codes"
)

var ErrNoCredentials = errors.NewC("missing authorization header", codes.Unauthenticated).
	WithPublicMessage("Not authenticated")

type claimsKey struct{}

func withClaims(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims of the authenticated caller, if any.
func ClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return c, ok
}

// bearerToken extracts the token from the Authorization header. The "Bearer"
// prefix is optional so that tokens can be pasted directly.
func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", errors.Mark(ErrNoCredentials, 0)
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		if strings.EqualFold(h, "bearer") {
			return "", errors.Mark(ErrNoCredentials, 0)
		}
		return h, nil
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", errors.Mark(ErrInvalidToken, 0).Append("unsupported authorization scheme")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.Mark(ErrNoCredentials, 0)
	}
	return token, nil
}

// requireUser wraps a handler so that it only runs for callers with a valid,
// unrevoked access token.
func (s *Server) requireUser(next JSONHandler) JSONHandler {
	return func(r *http.Request) (any, error) {
		token, err := bearerToken(r)
		if err != nil {
			return nil, err
		}
		claims, err := s.tokens.parse(token)
		if err != nil {
			return nil, err
		}
		ctx := r.Context()
		blocked, err := s.blocklist.IsBlocked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, errors.Mark(ErrInvalidToken, 0).Append("token revoked")
		}
		return next(r.WithContext(withClaims(ctx, claims)))
	}
}
