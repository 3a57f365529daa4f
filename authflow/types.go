package authflow

import (
	"context"
)

// State of a sign-in attempt.
type State int

const (
	StateIdle State = iota
	StateExchanging
	StateAwaitingProfile
	StateSubmitting
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExchanging:
		return "exchanging"
	case StateAwaitingProfile:
		return "awaiting_profile"
	case StateSubmitting:
		return "submitting"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Assertion is an opaque, single-use proof of identity issued by a credential
// provider. It is passed to the backend untouched.
type Assertion string

// PendingRegistration is held while waiting for the user to choose a display
// name for a new account.
type PendingRegistration struct {
	Assertion   Assertion
	DisplayName string
}

// ExchangeRequest is sent to the backend. DisplayName is empty on the first
// exchange of an attempt.
type ExchangeRequest struct {
	Assertion   Assertion
	DisplayName string
}

// Outcome is the parsed result of an exchange: one of Authenticated,
// RegistrationRequired or Rejected.
type Outcome interface {
	isOutcome()
}

// Authenticated carries the credentials of a signed in user.
type Authenticated struct {
	AccessToken string
	DisplayName string
}

// RegistrationRequired signals that the identity is unknown and a display
// name is needed to create an account.
type RegistrationRequired struct{}

// Rejected is any response that neither authenticates nor asks for
// registration.
type Rejected struct {
	StatusCode         int
	InvalidCredentials bool
}

func (Authenticated) isOutcome()        {}
func (RegistrationRequired) isOutcome() {}
func (Rejected) isOutcome()             {}

// Exchanger trades an assertion for an Outcome. A non-nil error means the
// request could not be completed at all.
type Exchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (Outcome, error)
}

// Provider obtains assertions from a third-party identity provider.
type Provider interface {
	// BeginSignIn runs the provider's interactive sign-in and yields an
	// assertion.
	BeginSignIn(ctx context.Context) (Assertion, error)

	// EndSession invalidates any session held with the provider.
	EndSession(ctx context.Context) error
}
