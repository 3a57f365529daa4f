package dashboard

import (
	"context"
	"strings"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/session"
	"github.com/dpup/qavault/vault"
	"google.golang.org/grpc/codes"
)

const defaultPageSize = 10

var (
	ErrNoSession = errors.NewC("dashboard requires a session", codes.Unauthenticated).
		WithPublicMessage("Please sign in first")
	ErrQueryRequired = errors.NewC("search query is required", codes.InvalidArgument).
		WithPublicMessage("Enter something to search for")
)

// API is the part of the backend the shell uses.
type API interface {
	Search(ctx context.Context, token, q string) ([]vault.Entry, error)
	All(ctx context.Context, token string, limit, offset int) ([]vault.Entry, error)
	Add(ctx context.Context, token string, entry vault.NewEntry) (int64, error)
	Tags(ctx context.Context, token string) ([]vault.Tag, error)
	CreateTag(ctx context.Context, token string, tag vault.NewTag) (vault.Tag, error)
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithPageSize sets the number of entries returned by Recent.
func WithPageSize(n int) ShellOption {
	return func(s *Shell) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// OnSessionRejected is called when the backend refuses the session's token.
func OnSessionRejected(fn func(context.Context)) ShellOption {
	return func(s *Shell) {
		s.onRejected = fn
	}
}

// Shell issues vault requests with the session's token. Every call is a
// single request, nothing is carried between calls.
type Shell struct {
	api        API
	session    session.Session
	pageSize   int
	onRejected func(context.Context)
}

func NewShell(api API, s session.Session, opts ...ShellOption) (*Shell, error) {
	if !s.Complete() {
		return nil, errors.Mark(ErrNoSession, 0)
	}
	sh := &Shell{api: api, session: s, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(sh)
	}
	return sh, nil
}

// DisplayName is the signed in user's name.
func (s *Shell) DisplayName() string {
	return s.session.DisplayName
}

func (s *Shell) Search(ctx context.Context, q string) ([]vault.Entry, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.Mark(ErrQueryRequired, 0)
	}
	entries, err := s.api.Search(ctx, s.session.AccessToken, q)
	return entries, s.check(ctx, err)
}

// Recent returns the given zero-based page of entries, newest first.
func (s *Shell) Recent(ctx context.Context, page int) ([]vault.Entry, error) {
	if page < 0 {
		page = 0
	}
	entries, err := s.api.All(ctx, s.session.AccessToken, s.pageSize, page*s.pageSize)
	return entries, s.check(ctx, err)
}

// Submit validates and adds an entry, returning its id.
func (s *Shell) Submit(ctx context.Context, entry vault.NewEntry) (int64, error) {
	entry, err := entry.Normalize()
	if err != nil {
		return 0, err
	}
	id, err := s.api.Add(ctx, s.session.AccessToken, entry)
	if err := s.check(ctx, err); err != nil {
		return 0, err
	}
	logging.Infow(ctx, "dashboard: entry submitted", "id", id)
	return id, nil
}

func (s *Shell) Tags(ctx context.Context) ([]vault.Tag, error) {
	tags, err := s.api.Tags(ctx, s.session.AccessToken)
	return tags, s.check(ctx, err)
}

func (s *Shell) CreateTag(ctx context.Context, tag vault.NewTag) (vault.Tag, error) {
	tag, err := tag.Normalize()
	if err != nil {
		return vault.Tag{}, err
	}
	created, err := s.api.CreateTag(ctx, s.session.AccessToken, tag)
	return created, s.check(ctx, err)
}

// check notifies the host when the token has been refused.
func (s *Shell) check(ctx context.Context, err error) error {
	if err != nil && errors.Code(err) == codes.Unauthenticated && s.onRejected != nil {
		s.onRejected(ctx)
	}
	return err
}
