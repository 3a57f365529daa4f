package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dpup/qavault/vault"
)

const (
	tagsCacheKey       = "tags"
	authConfigCacheKey = "auth_config"
)

// AuthConfig is the public sign-in configuration published by the backend.
type AuthConfig struct {
	GoogleClientID string `json:"google_client_id"`
}

// Search returns entries whose question or answer contains q.
func (c *Client) Search(ctx context.Context, token, q string) ([]vault.Entry, error) {
	var entries []vault.Entry
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/search",
		query:  url.Values{"q": {q}},
		token:  token,
	}, &entries)
	return entries, err
}

// All returns a page of entries, newest first.
func (c *Client) All(ctx context.Context, token string, limit, offset int) ([]vault.Entry, error) {
	var entries []vault.Entry
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/all",
		query: url.Values{
			"limit":  {strconv.Itoa(limit)},
			"offset": {strconv.Itoa(offset)},
		},
		token: token,
	}, &entries)
	return entries, err
}

type addResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// Add submits a new entry and returns its id.
func (c *Client) Add(ctx context.Context, token string, entry vault.NewEntry) (int64, error) {
	var out addResponse
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/add",
		token:  token,
		body:   entry,
	}, &out)
	return out.ID, err
}

// Tags lists all tags. The list is cached.
func (c *Client) Tags(ctx context.Context, token string) ([]vault.Tag, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(tagsCacheKey); ok {
			return v.([]vault.Tag), nil
		}
	}
	tags := []vault.Tag{}
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/tags",
		token:  token,
	}, &tags)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(tagsCacheKey, tags)
	}
	return tags, nil
}

// CreateTag creates a tag and drops the cached tag list.
func (c *Client) CreateTag(ctx context.Context, token string, tag vault.NewTag) (vault.Tag, error) {
	var out vault.Tag
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/tags",
		token:  token,
		body:   tag,
	}, &out)
	if err != nil {
		return vault.Tag{}, err
	}
	if c.cache != nil {
		c.cache.Delete(tagsCacheKey)
	}
	return out, nil
}

// AuthConfig fetches the sign-in configuration. It needs no token and is
// cached.
func (c *Client) AuthConfig(ctx context.Context) (AuthConfig, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(authConfigCacheKey); ok {
			return v.(AuthConfig), nil
		}
	}
	var cfg AuthConfig
	if err := c.call(ctx, request{method: http.MethodGet, path: "/auth/config"}, &cfg); err != nil {
		return AuthConfig{}, err
	}
	if c.cache != nil {
		c.cache.SetDefault(authConfigCacheKey, cfg)
	}
	return cfg, nil
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// Logout asks the backend to stop accepting token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.call(ctx, request{method: http.MethodPost, path: "/auth/logout", token: token}, nil)
}
