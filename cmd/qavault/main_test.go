package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dpup/qavault"
	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/dashboard"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/server"
	"github.com/dpup/qavault/storage"
	"github.com/dpup/qavault/storage/memorystore"
	"github.com/dpup/qavault/vault"
	"github.com/dpup/qavault/vault/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startBackend(t *testing.T, signingKey string) {
	t.Helper()
	store, err := sqlstore.New(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := server.New(
		server.WithLogger(logging.NewZapLogger(zap.NewNop())),
		server.WithVault(store),
		server.WithSigningKey([]byte(signingKey)),
		server.WithIdentityVerifier(server.IdentityVerifierFunc(
			func(_ context.Context, token string) (server.GoogleIdentity, error) {
				if !strings.HasPrefix(token, "google:") {
					return server.GoogleIdentity{}, errors.Mark(server.ErrInvalidGoogleToken, 0)
				}
				return server.GoogleIdentity{Email: strings.TrimPrefix(token, "google:")}, nil
			})),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	require.NoError(t, qavault.LoadConfigDefaults(map[string]interface{}{
		"api.baseUrl": srv.URL,
		"log.format":  "none",
	}))
}

// run executes one qavault invocation against kv, the persisted session.
func run(t *testing.T, kv storage.Store, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := &app{in: strings.NewReader(stdin), out: &out, errOut: &errOut, kv: kv}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCLI(t *testing.T) {
	startBackend(t, "cli-test-key")
	kv := memorystore.New()

	_, err := run(t, kv, "", "whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)

	_, err = run(t, kv, "", "search", "anything")
	assert.ErrorIs(t, err, ErrNotSignedIn)

	out, err := run(t, kv, "\n   \nGrace\n", "login", "--assertion", "google:grace@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Display name: ")
	assert.Contains(t, out, "Signed in as Grace")

	out, err = run(t, kv, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Grace")
	assert.Contains(t, out, "grace@example.com")

	out, err = run(t, kv, "", "tags")
	require.NoError(t, err)
	assert.Equal(t, "No tags yet\n", out)

	out, err = run(t, kv, "", "tags", "create", "ops", "team")
	require.NoError(t, err)
	assert.Equal(t, "Created tag #1 ops (team)\n", out)

	out, err = run(t, kv, "", "tags")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")

	_, err = run(t, kv, "", "add", "-q", "How do I restart the queue?", "-a", " ")
	assert.ErrorIs(t, err, vault.ErrQuestionRequired, "validated before any request")

	out, err = run(t, kv, "", "add", "-q", "How do I restart the queue?", "-a", "Run the restart job.", "-t", "1")
	require.NoError(t, err)
	assert.Equal(t, "Added entry #1\n", out)

	out, err = run(t, kv, "", "search", "restart", "the")
	require.NoError(t, err)
	assert.Equal(t, "#1 How do I restart the queue?\n    Run the restart job.\n    [ops]\n", out)

	out, err = run(t, kv, "", "search", "grafana")
	require.NoError(t, err)
	assert.Equal(t, "No matching entries\n", out)

	out, err = run(t, kv, "", "recent", "--json")
	require.NoError(t, err)
	var entries []vault.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Run the restart job.", entries[0].Answer)

	out, err = run(t, kv, "", "recent", "--page", "1")
	require.NoError(t, err)
	assert.Equal(t, "No entries yet\n", out)

	out, err = run(t, kv, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	_, err = run(t, kv, "", "whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestCLI_returningUser(t *testing.T) {
	startBackend(t, "cli-test-key")
	kv := memorystore.New()

	_, err := run(t, kv, "Ada\n", "login", "--assertion", "google:ada@example.com")
	require.NoError(t, err)
	_, err = run(t, kv, "", "logout")
	require.NoError(t, err)

	out, err := run(t, kv, "", "login", "--assertion", "google:ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as Ada\n", out, "no prompt for known users")
}

func TestCLI_loginFailures(t *testing.T) {
	startBackend(t, "cli-test-key")
	kv := memorystore.New()

	_, err := run(t, kv, "", "login", "--assertion", "forged")
	require.Error(t, err)
	assert.Equal(t, authflow.CategoryInvalidCredentials, authflow.CategoryOf(err))

	_, err = run(t, kv, "", "login", "--assertion", "google:new@example.com")
	assert.ErrorIs(t, err, dashboard.ErrPromptCancelled, "no input means no registration")

	_, err = run(t, kv, "", "whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestCLI_rejectedSessionIsCleared(t *testing.T) {
	startBackend(t, "cli-test-key")
	kv := memorystore.New()

	_, err := run(t, kv, "Ada\n", "login", "--assertion", "google:ada@example.com")
	require.NoError(t, err)

	// A different backend does not accept the saved token.
	startBackend(t, "other-key")
	_, err = run(t, kv, "", "tags")
	require.Error(t, err)

	_, err = run(t, kv, "", "whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestCLI_unusableSessionPath(t *testing.T) {
	require.NoError(t, qavault.LoadConfigDefaults(map[string]interface{}{
		"session.backend": "sqlite",
		"session.path":    t.TempDir(),
		"log.format":      "none",
	}))
	t.Cleanup(func() {
		_ = qavault.LoadConfigDefaults(map[string]interface{}{"session.path": ""})
	})

	_, err := run(t, nil, "", "whoami")
	require.Error(t, err)
	assert.Contains(t, errors.PublicMessage(err), "Could not open the session store")
}
