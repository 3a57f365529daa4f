package server

import (
	"context"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/dpup/qavault"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/storage/memorystore"
	"github.com/dpup/qavault/vault"
	"google.golang.org/grpc/codes"
)

var (
	ErrMissingVault    = errors.NewC("server: a vault store is required", codes.FailedPrecondition)
	ErrMissingVerifier = errors.NewC("server: auth.google.clientId or an identity verifier is required", codes.FailedPrecondition)
)

// Option customizes the server.
type Option func(*builder)

// WithHost sets the interface to bind to.
func WithHost(host string) Option {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort sets the port to listen on.
func WithPort(port int) Option {
	return func(b *builder) {
		b.port = port
	}
}

// WithLogger sets the base logger. Each request gets a child logger.
func WithLogger(l logging.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

// WithVault sets the store for users, tags and entries.
func WithVault(store vault.Store) Option {
	return func(b *builder) {
		b.vault = store
	}
}

// WithIdentityVerifier replaces Google ID token verification.
func WithIdentityVerifier(v IdentityVerifier) Option {
	return func(b *builder) {
		b.verifier = v
	}
}

// WithGoogleClientID sets the OAuth client that ID tokens must be issued to.
// It is also published to clients via /auth/config.
func WithGoogleClientID(id string) Option {
	return func(b *builder) {
		b.googleClientID = id
	}
}

// WithSigningKey sets the HMAC key for access tokens.
func WithSigningKey(key []byte) Option {
	return func(b *builder) {
		b.signingKey = key
	}
}

// WithTokenExpiration sets the lifetime of access tokens.
func WithTokenExpiration(d time.Duration) Option {
	return func(b *builder) {
		b.tokenExpiration = d
	}
}

// WithBlocklist sets where revoked tokens are recorded. Defaults to memory.
func WithBlocklist(bl Blocklist) Option {
	return func(b *builder) {
		b.blocklist = bl
	}
}

// WithEventBus publishes login and logout events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(b *builder) {
		b.bus = bus
	}
}

// WithCORSOrigins allows browser requests from the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(b *builder) {
		b.corsOrigins = append(b.corsOrigins, origins...)
	}
}

// WithSecurityHeaders replaces the default security headers. CORS origins
// configured separately are added to it.
func WithSecurityHeaders(sh *SecurityHeaders) Option {
	return func(b *builder) {
		b.security = sh
	}
}

func withClock(now func() time.Time) Option {
	return func(b *builder) {
		b.now = now
	}
}

type builder struct {
	host            string
	port            int
	logger          logging.Logger
	vault           vault.Store
	verifier        IdentityVerifier
	googleClientID  string
	signingKey      []byte
	tokenExpiration time.Duration
	blocklist       Blocklist
	bus             eventbus.EventBus
	corsOrigins     []string
	security        *SecurityHeaders
	now             func() time.Time
}

// New returns a server configured from qavault.Config and opts.
func New(opts ...Option) (*Server, error) {
	b := &builder{
		host:            qavault.ConfigString("server.host"),
		port:            qavault.ConfigInt("server.port"),
		corsOrigins:     qavault.ConfigStrings("server.corsOrigins"),
		googleClientID:  qavault.ConfigString("auth.google.clientId"),
		signingKey:      qavault.ConfigBytes("auth.signingKey"),
		tokenExpiration: qavault.ConfigDuration("auth.tokenExpiration"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() (*Server, error) {
	if b.vault == nil {
		return nil, errors.Mark(ErrMissingVault, 0)
	}
	if len(b.signingKey) == 0 {
		return nil, errors.Mark(ErrMissingSigningKey, 0)
	}
	if b.verifier == nil {
		if b.googleClientID == "" {
			return nil, errors.Mark(ErrMissingVerifier, 0)
		}
		b.verifier = GoogleVerifier(b.googleClientID)
	}
	if b.logger == nil {
		b.logger = logging.NewDevLogger()
	}
	ctx := logging.With(context.Background(), b.logger)

	if b.blocklist == nil {
		b.blocklist = NewBlocklist(memorystore.New())
	}
	if b.bus == nil {
		b.bus = eventbus.NewBus(ctx)
	}
	if b.security == nil {
		b.security = &SecurityHeaders{
			XFrameOptions:    XFrameOptionsDeny,
			CORSAllowHeaders: []string{"Authorization", "Content-Type"},
			CORSMaxAge:       time.Hour,
		}
	}
	b.security.CORSOrigins = append(b.security.CORSOrigins, b.corsOrigins...)

	s := &Server{
		host:           b.host,
		port:           b.port,
		baseContext:    ctx,
		vault:          b.vault,
		verifier:       b.verifier,
		googleClientID: b.googleClientID,
		tokens: &tokenIssuer{
			key:        b.signingKey,
			expiration: b.tokenExpiration,
			now:        b.now,
		},
		blocklist: b.blocklist,
		bus:       b.bus,
	}
	subscribeAudit(s.bus)

	s.handler = logging.Middleware(b.logger,
		b.security.Middleware(
			gziphandler.GzipHandler(s.routes())))
	return s, nil
}
