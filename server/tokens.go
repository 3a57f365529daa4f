package server

import (
	"strconv"
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/session"
	"github.com/dpup/qavault/vault"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

var (
	ErrMissingSigningKey = errors.NewC("server: auth.signingKey is required", codes.FailedPrecondition)
	ErrInvalidToken      = errors.NewC("invalid access token", codes.Unauthenticated).
		WithPublicMessage("Could not validate credentials")
)

// tokenIssuer signs and verifies access tokens.
type tokenIssuer struct {
	key        []byte
	expiration time.Duration
	now        func() time.Time
}

// issue returns a signed token for the user.
func (ti *tokenIssuer) issue(u vault.User) (string, *session.Claims, error) {
	now := ti.now()
	claims := &session.Claims{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  strconv.FormatInt(u.ID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ti.expiration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ti.expiration))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", nil, errors.WrapPrefix(err, "signing access token", 0)
	}
	return token, claims, nil
}

// parse verifies the token's signature and expiry.
func (ti *tokenIssuer) parse(token string) (*session.Claims, error) {
	claims := &session.Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ti.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, errors.Mark(ErrInvalidToken, 0).Append(err.Error())
	}
	if claims.UserID == 0 {
		return nil, errors.Mark(ErrInvalidToken, 0).Append("missing user_id")
	}
	return claims, nil
}
