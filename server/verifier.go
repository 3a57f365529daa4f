package server

import (
	"context"

	"github.com/dpup/qavault/errors"
	"google.golang.org/api/idtoken"
	"google.golang.org/grpc/codes"
)

var ErrInvalidGoogleToken = errors.NewC("invalid google id token", codes.Unauthenticated).
	WithPublicMessage("Invalid Google Token")

// GoogleIdentity is the verified content of a Google ID token.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier checks an identity assertion presented at sign-in.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (GoogleIdentity, error)
}

// IdentityVerifierFunc adapts a function to IdentityVerifier.
type IdentityVerifierFunc func(ctx context.Context, token string) (GoogleIdentity, error)

func (fn IdentityVerifierFunc) Verify(ctx context.Context, token string) (GoogleIdentity, error) {
	return fn(ctx, token)
}

// GoogleVerifier validates Google ID tokens issued to clientID.
func GoogleVerifier(clientID string) IdentityVerifier {
	return IdentityVerifierFunc(func(ctx context.Context, token string) (GoogleIdentity, error) {
		payload, err := idtoken.Validate(ctx, token, clientID)
		if err != nil {
			return GoogleIdentity{}, errors.Mark(ErrInvalidGoogleToken, 0).Append(err.Error())
		}
		email, _ := payload.Claims["email"].(string)
		if email == "" {
			return GoogleIdentity{}, errors.Mark(ErrInvalidGoogleToken, 0).Append("no email claim")
		}
		if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
			return GoogleIdentity{}, errors.Mark(ErrInvalidGoogleToken, 0).Append("email not verified")
		}
		name, _ := payload.Claims["name"].(string)
		return GoogleIdentity{Subject: payload.Subject, Email: email, Name: name}, nil
	})
}
