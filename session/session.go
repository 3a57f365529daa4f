// Package session persists the record of an authenticated user between runs.
//
// A Session exists in durable storage if and only if the user is considered
// authenticated. It is written once per successful sign-in, replacing any
// previous record wholesale, and removed on logout.
package session

import (
	"context"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/storage"
	"google.golang.org/grpc/codes"
)

var (
	// ErrNotFound is returned by Load when no session has been saved.
	ErrNotFound = errors.NewC("no session", codes.NotFound)

	// ErrIncomplete is returned by Save when a session lacks a token or name.
	ErrIncomplete = errors.NewC("session requires a display name and access token", codes.InvalidArgument)
)

// Session is the durable result of a successful exchange.
type Session struct {
	DisplayName string `json:"display_name"`
	AccessToken string `json:"access_token"`
}

// Complete reports whether both fields are populated.
func (s Session) Complete() bool {
	return s.DisplayName != "" && s.AccessToken != ""
}

// Store is a single slot holding at most one Session.
type Store interface {
	// Load returns the saved session or ErrNotFound.
	Load(ctx context.Context) (Session, error)

	// Save replaces any saved session.
	Save(ctx context.Context, s Session) error

	// Clear removes the saved session. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}

// currentKey is the primary key of the one record the store manages.
const currentKey = "current"

type record struct {
	Key string `json:"key"`
	Session
}

func (r record) PK() string {
	return r.Key
}

func (r record) Name() string {
	return "sessions"
}

// NewStore returns a Store backed by the key/value storage layer.
func NewStore(kv storage.Store) Store {
	return &kvStore{kv: kv}
}

type kvStore struct {
	kv storage.Store
}

func (s *kvStore) Load(ctx context.Context) (Session, error) {
	var r record
	if err := s.kv.Read(ctx, currentKey, &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, errors.Mark(ErrNotFound, 0)
		}
		return Session{}, errors.WrapPrefix(err, "loading session", 0)
	}
	if !r.Session.Complete() {
		return Session{}, errors.Mark(ErrNotFound, 0)
	}
	return r.Session, nil
}

func (s *kvStore) Save(ctx context.Context, sess Session) error {
	if !sess.Complete() {
		return errors.Mark(ErrIncomplete, 0)
	}
	if err := s.kv.Upsert(ctx, record{Key: currentKey, Session: sess}); err != nil {
		return errors.WrapPrefix(err, "saving session", 0)
	}
	return nil
}

func (s *kvStore) Clear(ctx context.Context) error {
	err := s.kv.Delete(ctx, record{Key: currentKey})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return errors.WrapPrefix(err, "clearing session", 0)
	}
	return nil
}
