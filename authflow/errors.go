package authflow

import (
	"github.com/dpup/qavault/errors"
	"google.golang.org/grpc/codes"
)

var (
	ErrDisplayNameRequired = errors.NewC("display name required", codes.InvalidArgument).
		WithPublicMessage("Display name required")

	ErrInvalidCredentials = errors.NewC("invalid credentials", codes.Unauthenticated).
		WithPublicMessage("Sign-in was rejected, try again with a different account")

	ErrExchangeFailed = errors.NewC("exchange failed", codes.Unavailable).
		WithPublicMessage("Could not sign in, check your connection and try again")

	ErrUnexpectedResponse = errors.NewC("unexpected response from server", codes.Internal).
		WithPublicMessage("The server returned an unexpected response, try again")

	ErrRegistrationLoop = errors.NewC("registration still required after submitting a display name", codes.Internal).
		WithPublicMessage("Registration could not be completed, try again")

	ErrProviderFailed = errors.NewC("credential provider failed", codes.Unavailable).
		WithPublicMessage("Sign-in with the identity provider did not complete")

	ErrSessionNotSaved = errors.NewC("session could not be saved", codes.Internal).
		WithPublicMessage("Signed in, but the session could not be saved")

	// ErrBusy is returned when an exchange is already in flight. It does not
	// change the controller's state.
	ErrBusy = errors.NewC("an exchange is already in progress", codes.Aborted)

	// ErrNoPendingRegistration is returned by SubmitProfile outside of
	// StateAwaitingProfile.
	ErrNoPendingRegistration = errors.NewC("no registration is pending", codes.FailedPrecondition)
)

// Category groups failures by how they should be presented to the user.
type Category int

const (
	CategoryNone Category = iota
	CategoryValidation
	CategoryInvalidCredentials
	CategoryTransport
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryValidation:
		return "validation"
	case CategoryInvalidCredentials:
		return "invalid_credentials"
	case CategoryTransport:
		return "transport"
	}
	return "unknown"
}

// CategoryOf maps an error to its presentation category.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}
	switch errors.Code(err) {
	case codes.InvalidArgument:
		return CategoryValidation
	case codes.Unauthenticated:
		return CategoryInvalidCredentials
	}
	return CategoryTransport
}
