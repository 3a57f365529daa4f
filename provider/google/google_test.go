package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
)

// fakeGoogle serves the token and revocation endpoints.
type fakeGoogle struct {
	*httptest.Server

	mu         sync.Mutex
	verifier   string
	revoked    []string
	failRevoke int
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	f := &fakeGoogle{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.mu.Lock()
		f.verifier = r.PostForm.Get("code_verifier")
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"goog-at","token_type":"Bearer","expires_in":3600,"id_token":"header.payload.sig"}`))
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failRevoke > 0 {
			f.failRevoke--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.revoked = append(f.revoked, r.PostForm.Get("token"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGoogle) provider(t *testing.T, open func(ctx context.Context, u string) error) *Provider {
	p, err := New("client-123",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   f.URL + "/auth",
			TokenURL:  f.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		WithRevokeURL(f.URL+"/revoke"),
		WithOpenURL(open),
	)
	require.NoError(t, err)
	return p
}

// browser returns an OpenURL func that follows the consent page straight
// back to the redirect URI with the given query.
func browser(t *testing.T, seen *url.Values, params func(state string) url.Values) func(context.Context, string) error {
	return func(ctx context.Context, authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		if seen != nil {
			*seen = q
		}
		redirect := q.Get("redirect_uri") + "?" + params(q.Get("state")).Encode()
		resp, err := http.Get(redirect)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestNew_requiresClientID(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrMissingClientID)
}

func TestBeginSignIn(t *testing.T) {
	f := newFakeGoogle(t)
	var seen url.Values
	p := f.provider(t, browser(t, &seen, func(state string) url.Values {
		return url.Values{"state": {state}, "code": {"good-code"}}
	}))

	assertion, err := p.BeginSignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authflow.Assertion("header.payload.sig"), assertion)

	assert.Equal(t, "client-123", seen.Get("client_id"))
	assert.Equal(t, "code", seen.Get("response_type"))
	assert.Equal(t, "S256", seen.Get("code_challenge_method"))
	assert.NotEmpty(t, seen.Get("code_challenge"))
	assert.Equal(t, "openid email profile", seen.Get("scope"))
	assert.Contains(t, seen.Get("redirect_uri"), "http://127.0.0.1:")

	f.mu.Lock()
	assert.NotEmpty(t, f.verifier, "PKCE verifier is sent with the code")
	f.mu.Unlock()

	f.mu.Lock()
	assert.Equal(t, []string{"goog-at"}, f.revoked, "the Google token is revoked once the ID token is taken")
	f.mu.Unlock()

	require.NoError(t, p.EndSession(context.Background()), "nothing left to revoke")
	f.mu.Lock()
	assert.Len(t, f.revoked, 1)
	f.mu.Unlock()
}

func TestBeginSignIn_revokeRetriedOnEndSession(t *testing.T) {
	f := newFakeGoogle(t)
	f.failRevoke = 2
	p := f.provider(t, browser(t, nil, func(state string) url.Values {
		return url.Values{"state": {state}, "code": {"good-code"}}
	}))

	_, err := p.BeginSignIn(context.Background())
	require.NoError(t, err, "a failed revocation does not fail the sign-in")
	f.mu.Lock()
	assert.Empty(t, f.revoked)
	f.mu.Unlock()

	err = p.EndSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, errors.Code(err))

	require.NoError(t, p.EndSession(context.Background()))
	require.NoError(t, p.EndSession(context.Background()))
	f.mu.Lock()
	assert.Equal(t, []string{"goog-at"}, f.revoked)
	f.mu.Unlock()
}

func TestBeginSignIn_failures(t *testing.T) {
	tests := []struct {
		name    string
		params  func(state string) url.Values
		wantErr error
		code    codes.Code
	}{
		{
			name: "consent denied",
			params: func(state string) url.Values {
				return url.Values{"state": {state}, "error": {"access_denied"}}
			},
			wantErr: ErrConsentDenied,
			code:    codes.PermissionDenied,
		},
		{
			name: "state mismatch",
			params: func(string) url.Values {
				return url.Values{"state": {"forged"}, "code": {"good-code"}}
			},
			wantErr: ErrStateMismatch,
			code:    codes.InvalidArgument,
		},
		{
			name: "missing code",
			params: func(state string) url.Values {
				return url.Values{"state": {state}}
			},
			wantErr: ErrConsentDenied,
			code:    codes.PermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGoogle(t)
			p := f.provider(t, browser(t, nil, tt.params))
			_, err := p.BeginSignIn(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.code, errors.Code(err))

			require.NoError(t, p.EndSession(context.Background()))
			assert.Empty(t, f.revoked)
		})
	}
}

func TestBeginSignIn_exchangeFails(t *testing.T) {
	f := newFakeGoogle(t)
	p := f.provider(t, browser(t, nil, func(state string) url.Values {
		return url.Values{"state": {state}, "code": {"expired-code"}}
	}))

	_, err := p.BeginSignIn(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, errors.Code(err))
}

func TestBeginSignIn_cancelled(t *testing.T) {
	f := newFakeGoogle(t)
	p := f.provider(t, func(context.Context, string) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.BeginSignIn(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, errors.Code(err))
}

func TestBeginSignIn_openFails(t *testing.T) {
	f := newFakeGoogle(t)
	p := f.provider(t, func(context.Context, string) error { return errors.New("no browser") })

	_, err := p.BeginSignIn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
}
