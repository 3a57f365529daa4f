// Package google signs users in with their Google account and yields the
// resulting ID token as an assertion for the qavault backend.
//
// The installed-application flow is used: a listener is started on the
// loopback interface, the user is sent to Google's consent page, and Google
// redirects back to the listener with an authorization code. The code is
// exchanged using PKCE, so no client secret needs to be kept confidential.
//
// https://developers.google.com/identity/protocols/oauth2/native-app
package google

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc/codes"
)

const (
	callbackPath     = "/callback"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"
)

var (
	ErrMissingClientID = errors.NewC("google: client id is required", codes.FailedPrecondition)
	ErrConsentDenied   = errors.NewC("google: sign-in was not completed", codes.PermissionDenied)
	ErrStateMismatch   = errors.NewC("google: oauth state mismatch", codes.InvalidArgument)
	ErrNoIDToken       = errors.NewC("google: token response did not include an id_token", codes.Internal)
)

// Option configures a Provider.
type Option func(*Provider)

// WithClientSecret sets the client secret. Google issues secrets to desktop
// clients but does not treat them as confidential.
func WithClientSecret(secret string) Option {
	return func(p *Provider) {
		p.clientSecret = secret
	}
}

// WithOpenURL sets the function used to send the user to the consent page.
// By default the URL is printed to stderr.
func WithOpenURL(fn func(ctx context.Context, url string) error) Option {
	return func(p *Provider) {
		p.openURL = fn
	}
}

// WithEndpoint overrides Google's OAuth endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithRevokeURL overrides Google's token revocation endpoint.
func WithRevokeURL(u string) Option {
	return func(p *Provider) {
		p.revokeURL = u
	}
}

// WithHTTPClient sets the client used for token exchange and revocation.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.http = hc
	}
}

// WithListenAddr sets the loopback address for the redirect listener. The
// default picks a free port on 127.0.0.1.
func WithListenAddr(addr string) Option {
	return func(p *Provider) {
		p.listenAddr = addr
	}
}

// WithScopes adds scopes beyond openid, email and profile.
func WithScopes(scopes ...string) Option {
	return func(p *Provider) {
		p.scopes = append(p.scopes, scopes...)
	}
}

// Provider implements authflow.Provider for Google.
type Provider struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	revokeURL    string
	listenAddr   string
	scopes       []string
	http         *http.Client
	openURL      func(ctx context.Context, url string) error

	mu    sync.Mutex
	token *oauth2.Token // Held only when revocation after sign-in failed.
}

var _ authflow.Provider = (*Provider)(nil)

// New returns a provider for the given OAuth client.
func New(clientID string, opts ...Option) (*Provider, error) {
	if clientID == "" {
		return nil, errors.Mark(ErrMissingClientID, 0)
	}
	p := &Provider{
		clientID:   clientID,
		endpoint:   google.Endpoint,
		revokeURL:  defaultRevokeURL,
		listenAddr: "127.0.0.1:0",
		scopes:     []string{"openid", "email", "profile"},
		http:       &http.Client{Timeout: 30 * time.Second},
		openURL:    printURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func printURL(_ context.Context, u string) error {
	_, err := fmt.Fprintf(os.Stderr, "Open this link in your browser to sign in:\n\n  %s\n\n", u)
	return err
}

func (p *Provider) config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
	}
}

type callbackResult struct {
	code string
	err  error
}

// BeginSignIn runs the consent flow and returns Google's ID token. It blocks
// until the browser is redirected back or ctx is done.
func (p *Provider) BeginSignIn(ctx context.Context) (authflow.Assertion, error) {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return "", errors.WrapPrefix(err, "google: starting redirect listener", 0).WithCode(codes.Unavailable)
	}

	conf := p.config("http://" + ln.Addr().String() + callbackPath)
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Warnw(ctx, "google: redirect listener stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	logging.Infow(ctx, "google: waiting for consent", "redirect_url", conf.RedirectURL)
	if err := p.openURL(ctx, authURL); err != nil {
		return "", errors.WrapPrefix(err, "google: opening consent page", 0).WithCode(codes.Unavailable)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return "", errors.WrapPrefix(ctx.Err(), "google: waiting for consent", 0).WithCode(codes.DeadlineExceeded)
	}
	if res.err != nil {
		return "", res.err
	}

	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.http), res.code,
		oauth2.VerifierOption(verifier))
	if err != nil {
		return "", errors.Codef(codes.Unavailable, "google: token exchange failed: %s", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", errors.Mark(ErrNoIDToken, 0)
	}

	logging.Info(ctx, "google: consent completed")

	// Only the ID token is needed, the Google grant is given up right away.
	// If that fails it is held so EndSession can try again.
	if err := p.revoke(ctx, token); err != nil {
		logging.Warnw(ctx, "google: revoking token after sign-in failed", "error", err)
		p.mu.Lock()
		p.token = token
		p.mu.Unlock()
	}
	return authflow.Assertion(idToken), nil
}

// callbackHandler accepts the first redirect carrying the expected state and
// reports its outcome on results.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	var once sync.Once
	report := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != callbackPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "Invalid sign-in state. Please try again.", http.StatusBadRequest)
			report(callbackResult{err: errors.Mark(ErrStateMismatch, 0)})
		case q.Get("error") != "":
			http.Error(w, "Sign-in was cancelled. You can close this window.", http.StatusForbidden)
			report(callbackResult{err: errors.Mark(ErrConsentDenied, 0).Append(q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			report(callbackResult{err: errors.Mark(ErrConsentDenied, 0).Append("no code")})
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("Signed in. You can close this window and return to the terminal.\n"))
			report(callbackResult{code: q.Get("code")})
		}
	})
}

// EndSession revokes a Google token still held from the last sign-in. It is
// a no-op if there is none.
func (p *Provider) EndSession(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.token = nil
	p.mu.Unlock()
	if token == nil {
		return nil
	}
	if err := p.revoke(ctx, token); err != nil {
		p.mu.Lock()
		if p.token == nil {
			p.token = token
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Provider) revoke(ctx context.Context, token *oauth2.Token) error {
	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.WrapPrefix(err, "google: building revoke request", 0)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return errors.WrapPrefix(err, "google: revoking token", 0).WithCode(codes.Unavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Codef(codes.Unavailable, "google: revoking token: status %d", resp.StatusCode)
	}
	logging.Info(ctx, "google: token revoked")
	return nil
}
