package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/vault"
	"google.golang.org/grpc/codes"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	statusLoginSuccess     = "login_success"
	statusRegisterSuccess  = "register_success"
	statusRegisterRequired = "register_required"
)

var (
	ErrTagExists = errors.NewC("tag already exists", codes.InvalidArgument).
		WithPublicMessage("Tag already exists")
	ErrQueryRequired = errors.NewC("search query is required", codes.InvalidArgument).
		WithPublicMessage("Search query is required")
	ErrBadPagination = errors.NewC("invalid pagination", codes.InvalidArgument).
		WithPublicMessage("limit and offset must be non-negative integers")
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /auth/google", JSONHandler(s.handleGoogleAuth))
	mux.Handle("POST /auth/logout", s.requireUser(s.handleLogout))
	mux.Handle("GET /auth/config", JSONHandler(s.handleAuthConfig))
	mux.Handle("GET /tags", s.requireUser(s.handleListTags))
	mux.Handle("POST /tags", s.requireUser(s.handleCreateTag))
	mux.Handle("POST /add", s.requireUser(s.handleAdd))
	mux.Handle("GET /all", s.requireUser(s.handleAll))
	mux.Handle("GET /search", s.requireUser(s.handleSearch))
	return mux
}

type googleAuthRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type authResponse struct {
	Status      string `json:"status"`
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Username    string `json:"username,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// handleGoogleAuth signs in a known Google identity, or registers it when a
// display name is supplied.
func (s *Server) handleGoogleAuth(r *http.Request) (any, error) {
	ctx := r.Context()
	var req googleAuthRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, errors.Mark(ErrInvalidGoogleToken, 0).Append("empty token")
	}

	identity, err := s.verifier.Verify(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	logging.Track(ctx, "auth.email", identity.Email)

	user, err := s.vault.UserByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		return s.issue(r, user, statusLoginSuccess)
	case !errors.Is(err, vault.ErrNotFound):
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return withStatus{
			status: http.StatusAccepted,
			body: authResponse{
				Status: statusRegisterRequired,
				Detail: "User not found. Please provide a display name.",
			},
		}, nil
	}

	user, err = s.vault.CreateUser(ctx, identity.Email, name)
	if errors.Is(err, vault.ErrAlreadyExists) {
		// Registered concurrently, sign in as the existing account.
		user, err = s.vault.UserByEmail(ctx, identity.Email)
		if err != nil {
			return nil, err
		}
		return s.issue(r, user, statusLoginSuccess)
	} else if err != nil {
		return nil, err
	}
	logging.Infow(ctx, "server: user registered", "user_id", user.ID)
	return s.issue(r, user, statusRegisterSuccess)
}

func (s *Server) issue(r *http.Request, user vault.User, status string) (any, error) {
	token, _, err := s.tokens.issue(user)
	if err != nil {
		return nil, err
	}
	logging.Track(r.Context(), "auth.user_id", user.ID)
	s.bus.Publish(eventbus.TopicLogin, eventbus.LoginEvent{
		DisplayName: user.FullName,
		Email:       user.Email,
		Registered:  status == statusRegisterSuccess,
	})
	return authResponse{
		Status:      status,
		AccessToken: token,
		TokenType:   "bearer",
		Username:    user.FullName,
	}, nil
}

func (s *Server) handleLogout(r *http.Request) (any, error) {
	ctx := r.Context()
	claims, _ := ClaimsFromContext(ctx)
	expires := claims.ExpiresAt
	if expires == nil {
		return nil, errors.NewC("token without expiry can not be revoked", codes.FailedPrecondition).
			WithPublicMessage("This token can not be revoked")
	}
	if err := s.blocklist.Block(ctx, claims.ID, expires.Time); err != nil {
		return nil, err
	}
	s.bus.Publish(eventbus.TopicLogout, eventbus.LogoutEvent{DisplayName: claims.Name, TokenID: claims.ID})
	return map[string]string{"status": "logged_out"}, nil
}

func (s *Server) handleAuthConfig(r *http.Request) (any, error) {
	return map[string]string{"google_client_id": s.googleClientID}, nil
}

func (s *Server) handleListTags(r *http.Request) (any, error) {
	return s.vault.Tags(r.Context())
}

func (s *Server) handleCreateTag(r *http.Request) (any, error) {
	var req vault.NewTag
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	tag, err := s.vault.CreateTag(r.Context(), req)
	if errors.Is(err, vault.ErrAlreadyExists) {
		return nil, errors.Mark(ErrTagExists, 0)
	}
	return tag, err
}

type addResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

func (s *Server) handleAdd(r *http.Request) (any, error) {
	ctx := r.Context()
	claims, _ := ClaimsFromContext(ctx)
	var req vault.NewEntry
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	id, err := s.vault.AddEntry(ctx, claims.UserID, req)
	if err != nil {
		return nil, err
	}
	logging.Track(ctx, "vault.entry_id", id)
	return addResponse{Status: "success", ID: id}, nil
}

func (s *Server) handleAll(r *http.Request) (any, error) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultPageSize)
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	return s.vault.Entries(r.Context(), limit, offset)
}

func (s *Server) handleSearch(r *http.Request) (any, error) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		return nil, errors.Mark(ErrQueryRequired, 0)
	}
	return s.vault.SearchEntries(r.Context(), q)
}

func queryInt(v string, d int) (int, error) {
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Mark(ErrBadPagination, 0)
	}
	return n, nil
}
