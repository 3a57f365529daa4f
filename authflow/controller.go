// Package authflow exchanges an identity assertion from a credential provider
// for a qavault session.
//
// A known identity is signed in with a single exchange. An unknown identity
// is asked for a display name and the same assertion is exchanged again with
// the name attached, creating the account:
//
//	Idle → Exchanging → Authenticated
//	                  ↘ AwaitingProfile → Submitting → Authenticated
//
// Any rejection or transport failure ends the attempt in Failed. Nothing is
// retried automatically, the user starts a fresh attempt with SignIn.
package authflow

import (
	"context"
	"strings"
	"sync"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/session"
)

// Option configures a Controller.
type Option func(*Controller)

// WithEventBus publishes eventbus.TopicLogin when a session is established.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// OnAuthenticated registers a callback invoked after the session has been
// persisted.
func OnAuthenticated(fn func(context.Context, session.Session)) Option {
	return func(c *Controller) {
		c.onAuthenticated = append(c.onAuthenticated, fn)
	}
}

// WithTransitionHook registers an observer for state changes. Hooks are
// called without the controller's lock held, in transition order.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Controller) {
		c.hooks = append(c.hooks, fn)
	}
}

// Controller drives one sign-in flow. It is safe for concurrent use, but only
// one exchange is ever in flight: SignIn and SubmitProfile return ErrBusy
// while a request is outstanding.
type Controller struct {
	provider  Provider
	exchanger Exchanger
	sessions  session.Store

	bus             eventbus.EventBus
	onAuthenticated []func(context.Context, session.Session)
	hooks           []func(from, to State)

	mu          sync.Mutex
	state       State
	err         error
	pending     *PendingRegistration
	session     session.Session
	signingIn   bool // Waiting on the provider, no assertion yet.
	transitions [][2]State
}

// New returns a controller in StateIdle.
func New(provider Provider, exchanger Exchanger, sessions session.Store, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		exchanger: exchanger,
		sessions:  sessions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last attempt, or the local validation
// error while awaiting a profile.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Session returns the session established by the flow. The second return
// value is false unless the state is StateAuthenticated.
func (c *Controller) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.state == StateAuthenticated
}

// Pending returns the last display name submitted for the pending
// registration. The assertion itself is never exposed.
func (c *Controller) Pending() (displayName string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.DisplayName, true
}

// SignIn starts a fresh attempt: any pending registration or previous error
// is discarded, the provider is asked for an assertion and the assertion is
// exchanged. The returned error is the one recorded in Err.
func (c *Controller) SignIn(ctx context.Context) error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return errors.Mark(ErrBusy, 0)
	}
	c.pending = nil
	c.err = nil
	c.session = session.Session{}
	c.setState(StateIdle)
	c.signingIn = true
	c.unlock()

	assertion, err := c.provider.BeginSignIn(ctx)

	c.mu.Lock()
	c.signingIn = false
	if err == nil && assertion == "" {
		err = errors.New("provider returned an empty assertion")
	}
	if err != nil {
		logging.Warnw(ctx, "authflow: provider sign-in failed", "error", err)
		ferr := c.fail(ErrProviderFailed)
		c.unlock()
		return ferr
	}
	c.setState(StateExchanging)
	c.unlock()

	logging.Debugw(ctx, "authflow: exchanging assertion")
	outcome, err := c.exchanger.Exchange(ctx, ExchangeRequest{Assertion: assertion})
	return c.complete(ctx, StateExchanging, assertion, outcome, err)
}

// SubmitProfile completes a pending registration. A blank name is rejected
// locally: the state stays StateAwaitingProfile and ErrDisplayNameRequired is
// recorded. Otherwise the pending assertion is exchanged again with the
// trimmed name.
func (c *Controller) SubmitProfile(ctx context.Context, displayName string) error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return errors.Mark(ErrBusy, 0)
	}
	if c.state != StateAwaitingProfile || c.pending == nil {
		c.mu.Unlock()
		return errors.Mark(ErrNoPendingRegistration, 0)
	}

	name := strings.TrimSpace(displayName)
	c.pending.DisplayName = displayName
	if name == "" {
		c.err = errors.Mark(ErrDisplayNameRequired, 0)
		err := c.err
		c.mu.Unlock()
		return err
	}

	c.pending.DisplayName = name
	c.err = nil
	req := ExchangeRequest{Assertion: c.pending.Assertion, DisplayName: name}
	c.setState(StateSubmitting)
	c.unlock()

	logging.Debugw(ctx, "authflow: submitting profile")
	outcome, err := c.exchanger.Exchange(ctx, req)
	return c.complete(ctx, StateSubmitting, req.Assertion, outcome, err)
}

// Abandon drops any pending registration and returns to StateIdle.
func (c *Controller) Abandon() error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return errors.Mark(ErrBusy, 0)
	}
	c.pending = nil
	c.err = nil
	c.setState(StateIdle)
	c.unlock()
	return nil
}

// complete handles the result of an exchange issued from the given state.
func (c *Controller) complete(ctx context.Context, from State, assertion Assertion, outcome Outcome, exchangeErr error) error {
	if exchangeErr != nil {
		logging.Warnw(ctx, "authflow: exchange failed", "error", exchangeErr, "state", from)
		return c.failWith(ErrExchangeFailed)
	}

	switch o := outcome.(type) {
	case Authenticated:
		return c.authenticate(ctx, from, session.Session{
			DisplayName: o.DisplayName,
			AccessToken: o.AccessToken,
		})

	case RegistrationRequired:
		if from == StateSubmitting {
			logging.Warnw(ctx, "authflow: registration required after submitting a profile")
			return c.failWith(ErrRegistrationLoop)
		}
		c.mu.Lock()
		c.pending = &PendingRegistration{Assertion: assertion}
		c.setState(StateAwaitingProfile)
		c.unlock()
		logging.Infow(ctx, "authflow: registration required")
		return nil

	case Rejected:
		logging.Infow(ctx, "authflow: exchange rejected", "http.status", o.StatusCode, "state", from)
		if o.InvalidCredentials {
			return c.failWith(ErrInvalidCredentials)
		}
		return c.failWith(ErrExchangeFailed)
	}

	logging.Warnw(ctx, "authflow: unrecognized exchange outcome", "outcome", outcome)
	return c.failWith(ErrUnexpectedResponse)
}

func (c *Controller) authenticate(ctx context.Context, from State, s session.Session) error {
	if !s.Complete() {
		logging.Warnw(ctx, "authflow: authenticated outcome without token or display name")
		return c.failWith(ErrUnexpectedResponse)
	}

	// The state is still Exchanging or Submitting, so nothing else can write
	// the session while this is in progress.
	if err := c.sessions.Save(ctx, s); err != nil {
		logging.Errorw(ctx, "authflow: saving session", "error", err)
		return c.failWith(ErrSessionNotSaved)
	}

	c.mu.Lock()
	c.pending = nil
	c.err = nil
	c.session = s
	c.setState(StateAuthenticated)
	c.unlock()

	logging.Infow(ctx, "authflow: authenticated", "display_name", s.DisplayName, "registered", from == StateSubmitting)
	if c.bus != nil {
		c.bus.Publish(eventbus.TopicLogin, eventbus.LoginEvent{
			DisplayName: s.DisplayName,
			Registered:  from == StateSubmitting,
		})
	}
	for _, fn := range c.onAuthenticated {
		fn(ctx, s)
	}
	return nil
}

func (c *Controller) failWith(sentinel *errors.Error) error {
	c.mu.Lock()
	err := c.fail(sentinel)
	c.unlock()
	return err
}

// fail records a FlowError and discards the assertion. Must hold the lock.
func (c *Controller) fail(sentinel *errors.Error) error {
	c.err = errors.Mark(sentinel, 2)
	c.pending = nil
	c.setState(StateFailed)
	return c.err
}

func (c *Controller) busy() bool {
	return c.signingIn || c.state == StateExchanging || c.state == StateSubmitting
}

// setState records a transition. Must hold the lock.
func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}
	c.transitions = append(c.transitions, [2]State{c.state, to})
	c.state = to
}

// unlock releases the lock and then notifies hooks of recorded transitions.
func (c *Controller) unlock() {
	transitions := c.transitions
	c.transitions = nil
	c.mu.Unlock()
	for _, t := range transitions {
		for _, hook := range c.hooks {
			hook(t[0], t[1])
		}
	}
}
