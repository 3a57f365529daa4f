// Package static provides a credential provider that hands out a fixed
// assertion, for scripted sign-ins and tests.
package static

import (
	"context"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/errors"
	"google.golang.org/grpc/codes"
)

var ErrNoAssertion = errors.NewC("static: no assertion configured", codes.FailedPrecondition)

// Provider returns the same assertion for every sign-in.
type Provider struct {
	assertion authflow.Assertion
}

var _ authflow.Provider = Provider{}

func New(assertion string) Provider {
	return Provider{assertion: authflow.Assertion(assertion)}
}

func (p Provider) BeginSignIn(ctx context.Context) (authflow.Assertion, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, 0)
	}
	if p.assertion == "" {
		return "", errors.Mark(ErrNoAssertion, 0)
	}
	return p.assertion, nil
}

// EndSession does nothing, there is no provider session to end.
func (Provider) EndSession(context.Context) error {
	return nil
}
