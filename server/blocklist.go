package server

import (
	"context"
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/storage"
)

// Blocklist holds revoked access tokens until they would have expired
// anyway.
type Blocklist interface {
	// IsBlocked checks if the token with the given ID has been revoked.
	IsBlocked(ctx context.Context, tokenID string) (bool, error)

	// Block revokes a token. Blocking a token twice is not an error.
	Block(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// NewBlocklist returns a Blocklist backed by a storage.Store.
func NewBlocklist(store storage.Store) Blocklist {
	return &storeBlocklist{store: store, now: time.Now}
}

type storeBlocklist struct {
	store storage.Store
	now   func() time.Time
}

func (b *storeBlocklist) IsBlocked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	var bt RevokedToken
	err := b.store.Read(ctx, tokenID, &bt)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if !bt.ExpiresAt.IsZero() && b.now().After(bt.ExpiresAt) {
		// Expired tokens fail validation on their own.
		_ = b.store.Delete(ctx, &bt)
	}
	return true, nil
}

func (b *storeBlocklist) Block(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return b.store.Upsert(ctx, &RevokedToken{TokenID: tokenID, ExpiresAt: expiresAt})
}

// RevokedToken is the stored record of a revoked token.
type RevokedToken struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (rt *RevokedToken) PK() string {
	return rt.TokenID
}
