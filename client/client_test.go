package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestNew(t *testing.T) {
	c, err := New("http://localhost:8000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", c.BaseURL())

	for _, bad := range []string{"", "localhost:8000", "://nope"} {
		_, err := New(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	}
}

func TestExchange_request(t *testing.T) {
	var got exchangeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/google", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "qavault-test", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(http.StatusAccepted, `{"status":"register_required"}`)(w, r)
	}, WithUserAgent("qavault-test"))

	_, err := c.Exchange(context.Background(), authflow.ExchangeRequest{Assertion: "tok-B", DisplayName: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, exchangeRequest{Token: "tok-B", Name: "Grace"}, got)
}

func TestExchange_omitsEmptyName(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		reply(http.StatusAccepted, `{"status":"register_required"}`)(w, r)
	})

	_, err := c.Exchange(context.Background(), authflow.ExchangeRequest{Assertion: "tok-B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"token": "tok-B"}, raw)
}

func TestExchange_outcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   authflow.Outcome
	}{
		{
			name:   "login success",
			status: http.StatusOK,
			body:   `{"status":"login_success","access_token":"abc","token_type":"bearer","username":"Ada"}`,
			want:   authflow.Authenticated{AccessToken: "abc", DisplayName: "Ada"},
		},
		{
			name:   "register success",
			status: http.StatusOK,
			body:   `{"status":"register_success","access_token":"xyz","username":"Grace"}`,
			want:   authflow.Authenticated{AccessToken: "xyz", DisplayName: "Grace"},
		},
		{
			name:   "status omitted",
			status: http.StatusOK,
			body:   `{"access_token":"abc","username":"Ada"}`,
			want:   authflow.Authenticated{AccessToken: "abc", DisplayName: "Ada"},
		},
		{
			name:   "unfamiliar status with token",
			status: http.StatusCreated,
			body:   `{"status":"welcome_back","access_token":"abc","username":"Ada"}`,
			want:   authflow.Authenticated{AccessToken: "abc", DisplayName: "Ada"},
		},
		{
			name:   "register required",
			status: http.StatusAccepted,
			body:   `{"status":"register_required","detail":"User not found. Please provide a display name."}`,
			want:   authflow.RegistrationRequired{},
		},
		{
			name:   "register required with 200",
			status: http.StatusOK,
			body:   `{"status":"register_required"}`,
			want:   authflow.RegistrationRequired{},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"detail":"Invalid Google Token"}`,
			want:   authflow.Rejected{StatusCode: 401, InvalidCredentials: true},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   ``,
			want:   authflow.Rejected{StatusCode: 403, InvalidCredentials: true},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"detail":"Internal Server Error"}`,
			want:   authflow.Rejected{StatusCode: 500},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"detail":"Invalid Google Token"}`,
			want:   authflow.Rejected{StatusCode: 400},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `<html>oops</html>`,
			want:   authflow.Rejected{StatusCode: 200},
		},
		{
			name:   "token without username",
			status: http.StatusOK,
			body:   `{"status":"login_success","access_token":"abc"}`,
			want:   authflow.Rejected{StatusCode: 200},
		},
		{
			name:   "empty object",
			status: http.StatusOK,
			body:   `{}`,
			want:   authflow.Rejected{StatusCode: 200},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, reply(tt.status, tt.body))
			got, err := c.Exchange(context.Background(), authflow.ExchangeRequest{Assertion: "tok"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExchange_transportFailure(t *testing.T) {
	srv := httptest.NewServer(reply(http.StatusOK, `{}`))
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	outcome, err := c.Exchange(context.Background(), authflow.ExchangeRequest{Assertion: "tok"})
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, codes.Unavailable, errors.Code(err))
	assert.Equal(t, "Could not reach the server", errors.PublicMessage(err))
}

func TestExchange_timeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))

	_, err := c.Exchange(context.Background(), authflow.ExchangeRequest{Assertion: "tok"})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, errors.Code(err))
}

func TestVaultAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "vpn config", r.URL.Query().Get("q"))
		reply(http.StatusOK, `[{"id":2,"question":"VPN?","metadata":{"answer":"1Password"},"tags":[{"id":1,"name":"it","type":"team"}]}]`)(w, r)
	})
	mux.HandleFunc("GET /all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		reply(http.StatusOK, `[]`)(w, r)
	})
	mux.HandleFunc("POST /add", func(w http.ResponseWriter, r *http.Request) {
		var e vault.NewEntry
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		assert.Equal(t, vault.NewEntry{Question: "q", Answer: "a", TagIDs: []int64{1}}, e)
		reply(http.StatusOK, `{"status":"success","id":7}`)(w, r)
	})

	c := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()

	entries, err := c.Search(ctx, "abc", "vpn config")
	require.NoError(t, err)
	assert.Equal(t, []vault.Entry{{
		ID:       2,
		Question: "VPN?",
		Answer:   "1Password",
		Tags:     []vault.Tag{{ID: 1, Name: "it", Type: "team"}},
	}}, entries)

	entries, err = c.All(ctx, "abc", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	id, err := c.Add(ctx, "abc", vault.NewEntry{Question: "q", Answer: "a", TagIDs: []int64{1}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestVaultAPI_errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   codes.Code
		wantPublic string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`, codes.Unauthenticated, "Could not validate credentials"},
		{"duplicate tag", http.StatusBadRequest, `{"detail":"Tag already exists"}`, codes.InvalidArgument, "Tag already exists"},
		{"no detail", http.StatusInternalServerError, `oops`, codes.Internal, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, reply(tt.status, tt.body))
			_, err := c.CreateTag(context.Background(), "abc", vault.NewTag{Name: "go", Type: "language"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Code(err))
			assert.Equal(t, tt.status, errors.HTTPStatusCode(err))
			assert.Equal(t, tt.wantPublic, errors.PublicMessage(err))
		})
	}

	t.Run("malformed success", func(t *testing.T) {
		c := newTestClient(t, reply(http.StatusOK, `{"id":`))
		_, err := c.Search(context.Background(), "abc", "x")
		assert.ErrorIs(t, err, ErrBadResponse)
	})
}

func TestTags_cache(t *testing.T) {
	var listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tags", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		reply(http.StatusOK, `[{"id":1,"name":"go","type":"language"}]`)(w, r)
	})
	mux.HandleFunc("POST /tags", func(w http.ResponseWriter, r *http.Request) {
		reply(http.StatusOK, `{"id":2,"name":"rust","type":"language"}`)(w, r)
	})

	c := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()

	for range 3 {
		tags, err := c.Tags(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, []vault.Tag{{ID: 1, Name: "go", Type: "language"}}, tags)
	}
	assert.Equal(t, int32(1), listCalls.Load())

	tag, err := c.CreateTag(ctx, "abc", vault.NewTag{Name: "rust", Type: "language"})
	require.NoError(t, err)
	assert.Equal(t, vault.Tag{ID: 2, Name: "rust", Type: "language"}, tag)

	_, err = c.Tags(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), listCalls.Load(), "creating a tag invalidates the list")

	t.Run("disabled", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			reply(http.StatusOK, `[]`)(w, r)
		}, WithCacheTTL(0))
		for range 2 {
			_, err := c.Tags(ctx, "abc")
			require.NoError(t, err)
		}
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestAuthConfig(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/auth/config", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		reply(http.StatusOK, `{"google_client_id":"123.apps.googleusercontent.com"}`)(w, r)
	})

	for range 2 {
		cfg, err := c.AuthConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "123.apps.googleusercontent.com", cfg.GoogleClientID)
	}
	assert.Equal(t, int32(1), calls.Load())

	c.ClearCache()
	_, err := c.AuthConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLogout(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/logout", r.URL.Path)
		auth = r.Header.Get("Authorization")
		reply(http.StatusOK, `{"status":"logged_out"}`)(w, r)
	})
	require.NoError(t, c.Logout(context.Background(), "abc"))
	assert.Equal(t, "Bearer abc", auth)
}
