package session

import (
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
)

// Claims are the fields the backend encodes in its access tokens.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the access token without verifying its signature. The
// client never holds the signing key, the claims are informational only.
func ParseClaims(s Session) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return nil, errors.WrapPrefix(err, "decoding access token", 0).WithCode(codes.InvalidArgument)
	}
	return claims, nil
}

// Expired reports whether the session's access token has passed its expiry.
// Tokens that cannot be decoded or that carry no expiry are never considered
// expired, the backend remains the authority on those.
func Expired(s Session, now time.Time) bool {
	claims, err := ParseClaims(s)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
