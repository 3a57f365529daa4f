// Package dashboard is the signed-in application: the Host decides whether a
// session exists and runs sign-in and logout, the Shell issues vault requests
// on behalf of the session.
package dashboard

import (
	"context"
	"time"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/session"
	"google.golang.org/grpc/codes"
)

// ErrPromptCancelled is returned by Login when the profile prompt gives up.
var ErrPromptCancelled = errors.NewC("registration cancelled", codes.Canceled).
	WithPublicMessage("Registration cancelled")

// ProfilePrompt asks the user for a display name. problem is the validation
// error from the previous answer, nil on the first call. Returning an error
// abandons the registration.
type ProfilePrompt func(ctx context.Context, problem error) (string, error)

// Revoker invalidates an access token at the backend.
type Revoker interface {
	Logout(ctx context.Context, token string) error
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithEventBus publishes login and logout events.
func WithEventBus(bus eventbus.EventBus) HostOption {
	return func(h *Host) {
		h.bus = bus
	}
}

// WithRevoker revokes the access token at the backend on logout.
func WithRevoker(r Revoker) HostOption {
	return func(h *Host) {
		h.revoker = r
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) HostOption {
	return func(h *Host) {
		h.now = now
	}
}

// Host owns the session for the lifetime of the application.
type Host struct {
	provider  authflow.Provider
	exchanger authflow.Exchanger
	sessions  session.Store
	bus       eventbus.EventBus
	revoker   Revoker
	now       func() time.Time
}

func NewHost(provider authflow.Provider, exchanger authflow.Exchanger, sessions session.Store, opts ...HostOption) *Host {
	h := &Host{
		provider:  provider,
		exchanger: exchanger,
		sessions:  sessions,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Restore loads the saved session. An expired session is cleared and
// reported as absent.
func (h *Host) Restore(ctx context.Context) (session.Session, bool, error) {
	s, err := h.sessions.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, false, nil
	} else if err != nil {
		return session.Session{}, false, err
	}
	if session.Expired(s, h.now()) {
		logging.Infow(ctx, "dashboard: saved session has expired", "display_name", s.DisplayName)
		if err := h.sessions.Clear(ctx); err != nil {
			return session.Session{}, false, err
		}
		return session.Session{}, false, nil
	}
	return s, true, nil
}

// Login runs a sign-in attempt to completion. New users are asked for a
// display name through prompt until they give a valid one or give up.
func (h *Host) Login(ctx context.Context, prompt ProfilePrompt) (session.Session, error) {
	opts := []authflow.Option{
		authflow.WithTransitionHook(func(from, to authflow.State) {
			logging.Debugw(ctx, "dashboard: auth state", "from", from, "to", to)
		}),
	}
	if h.bus != nil {
		opts = append(opts, authflow.WithEventBus(h.bus))
	}
	ctrl := authflow.New(h.provider, h.exchanger, h.sessions, opts...)

	_ = ctrl.SignIn(ctx)
	for {
		switch ctrl.State() {
		case authflow.StateAuthenticated:
			s, _ := ctrl.Session()
			return s, nil

		case authflow.StateFailed:
			return session.Session{}, ctrl.Err()

		case authflow.StateAwaitingProfile:
			name, err := prompt(ctx, ctrl.Err())
			if err != nil {
				_ = ctrl.Abandon()
				return session.Session{}, errors.Mark(ErrPromptCancelled, 0).Append(err.Error())
			}
			_ = ctrl.SubmitProfile(ctx, name)

		default:
			return session.Session{}, errors.Codef(codes.Internal, "dashboard: sign-in stopped in state %s", ctrl.State())
		}
	}
}

// Logout ends the session: the token is revoked at the backend when
// possible, the saved session is cleared and the provider session is ended.
// Logging out without a session is not an error, the provider session is
// still ended.
func (h *Host) Logout(ctx context.Context) error {
	s, err := h.sessions.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		h.endProviderSession(ctx)
		return nil
	} else if err != nil {
		return err
	}

	if h.revoker != nil {
		if err := h.revoker.Logout(ctx, s.AccessToken); err != nil {
			logging.Warnw(ctx, "dashboard: backend logout failed", "error", err)
		}
	}
	if err := h.sessions.Clear(ctx); err != nil {
		return err
	}
	h.endProviderSession(ctx)

	if h.bus != nil {
		event := eventbus.LogoutEvent{DisplayName: s.DisplayName}
		if claims, err := session.ParseClaims(s); err == nil {
			event.TokenID = claims.ID
		}
		h.bus.Publish(eventbus.TopicLogout, event)
	}
	logging.Infow(ctx, "dashboard: logged out", "display_name", s.DisplayName)
	return nil
}

func (h *Host) endProviderSession(ctx context.Context) {
	if err := h.provider.EndSession(ctx); err != nil {
		logging.Warnw(ctx, "dashboard: ending provider session failed", "error", err)
	}
}

// ClearSession drops the saved session without contacting anyone, used when
// the backend no longer accepts the token.
func (h *Host) ClearSession(ctx context.Context) error {
	return h.sessions.Clear(ctx)
}
