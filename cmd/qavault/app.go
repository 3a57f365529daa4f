package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dpup/qavault"
	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/client"
	"github.com/dpup/qavault/dashboard"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/provider/google"
	"github.com/dpup/qavault/provider/static"
	"github.com/dpup/qavault/session"
	"github.com/dpup/qavault/storage"
	"github.com/dpup/qavault/storage/memorystore"
	"github.com/dpup/qavault/storage/sqlitestore"
	"google.golang.org/grpc/codes"
)

var ErrNotSignedIn = errors.NewC("no saved session", codes.Unauthenticated).
	WithPublicMessage("Not signed in, run `qavault login` first")

// app holds what every command needs. It is populated by setup before a
// command runs and released by teardown afterwards.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// Flags.
	configPath string
	verbose    bool
	jsonOutput bool

	// kv is injected by tests, otherwise opened from session.backend.
	kv     storage.Store
	ownsKV bool

	reader   *bufio.Reader
	api      *client.Client
	sessions session.Store
	bus      *eventbus.Bus
}

func (a *app) setup(ctx context.Context) (context.Context, error) {
	if a.configPath != "" {
		if err := qavault.LoadConfigFile(a.configPath); err != nil {
			return ctx, errors.WrapPrefix(err, "loading "+a.configPath, 0)
		}
	}
	if errs := qavault.ValidateConfig(); len(errs) > 0 {
		return ctx, errors.New(qavault.FormatValidationErrors(errs))
	}

	logger, err := a.logger()
	if err != nil {
		return ctx, err
	}
	ctx = logging.With(ctx, logger)
	if w := qavault.ConfigWarnings(); w != "" {
		logging.Warn(ctx, w)
	}

	a.api, err = client.New(qavault.ConfigString("api.baseUrl"),
		client.WithTimeout(qavault.ConfigDuration("api.timeout")))
	if err != nil {
		return ctx, err
	}

	if a.kv == nil {
		if a.kv, err = openSessionStore(); err != nil {
			return ctx, err
		}
		a.ownsKV = true
	}
	a.sessions = session.NewStore(a.kv)
	a.reader = bufio.NewReader(a.in)

	a.bus = eventbus.NewBus(ctx)
	a.bus.Subscribe(eventbus.TopicLogin, func(ctx context.Context, msg *eventbus.Message) error {
		if e, ok := msg.Data.(eventbus.LoginEvent); ok {
			logging.Debugw(ctx, "qavault: signed in", "display_name", e.DisplayName, "registered", e.Registered)
		}
		return nil
	})
	return ctx, nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.bus != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.bus.Wait(waitCtx); err != nil {
			logging.Warnw(ctx, "qavault: event handlers did not finish", "error", err)
		}
	}
	if a.ownsKV {
		return a.kv.Close()
	}
	return nil
}

func (a *app) logger() (logging.Logger, error) {
	format := qavault.ConfigString("log.format")
	if format == logging.FormatDev || a.verbose {
		return logging.NewCLILogger(a.verbose), nil
	}
	return logging.New(format)
}

func openSessionStore() (storage.Store, error) {
	if qavault.ConfigString("session.backend") == "memory" {
		return memorystore.New(), nil
	}
	path := qavault.ConfigString("session.path")
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, errors.WrapPrefix(err, "locating config directory", 0)
		}
		path = filepath.Join(dir, "qavault", "session.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.WrapPrefix(err, "creating session directory", 0)
	}
	kv, err := sqlitestore.New(path)
	if err != nil {
		return nil, errors.WrapPrefix(err, "opening session store "+path, 0).
			WithPublicMessage("Could not open the session store at " + path)
	}
	return kv, nil
}

// host returns a Host that signs in with provider.
func (a *app) host(provider authflow.Provider) *dashboard.Host {
	return dashboard.NewHost(provider, a.api, a.sessions,
		dashboard.WithEventBus(a.bus),
		dashboard.WithRevoker(a.api))
}

// signInProvider picks the credential provider for login. A fixed assertion
// wins, otherwise Google is used with the configured or discovered client.
func (a *app) signInProvider(ctx context.Context, assertion string) (authflow.Provider, error) {
	if assertion != "" {
		return static.New(assertion), nil
	}
	clientID := qavault.ConfigString("google.clientId")
	if clientID == "" {
		cfg, err := a.api.AuthConfig(ctx)
		if err != nil {
			return nil, errors.WrapPrefix(err, "discovering google client id", 0)
		}
		clientID = cfg.GoogleClientID
	}
	return google.New(clientID,
		google.WithClientSecret(qavault.ConfigString("google.clientSecret")),
		google.WithOpenURL(func(_ context.Context, u string) error {
			_, err := io.WriteString(a.errOut, "Open this link to sign in with Google:\n\n  "+u+"\n\n")
			return err
		}))
}

// shell returns a dashboard for the saved session. A session the backend
// refuses is cleared so the next command asks for a login.
func (a *app) shell(ctx context.Context, opts ...dashboard.ShellOption) (*dashboard.Shell, error) {
	host := a.host(static.New(""))
	s, ok, err := host.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Mark(ErrNotSignedIn, 0)
	}
	opts = append(opts, dashboard.OnSessionRejected(func(ctx context.Context) {
		if err := host.ClearSession(ctx); err != nil {
			logging.Warnw(ctx, "qavault: clearing rejected session", "error", err)
		}
	}))
	return dashboard.NewShell(a.api, s, opts...)
}
