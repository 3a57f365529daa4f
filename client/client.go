// Package client talks to the qavault backend: the sign-in exchange endpoint
// and the vault API.
//
// Responses are parsed into typed values at this boundary. Callers never see
// raw status strings or HTTP status codes, only authflow outcomes, vault
// types and *errors.Error values.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/patrickmn/go-cache"
	"google.golang.org/grpc/codes"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultCacheTTL = 5 * time.Minute

	// Responses larger than this are treated as malformed.
	maxResponseBytes = 1 << 20
)

// ErrBadResponse is returned when a 2xx response can not be decoded.
var ErrBadResponse = errors.NewC("unexpected response from server", codes.Internal).
	WithPublicMessage("Unexpected response from server")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests. Its timeout is
// left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithCacheTTL controls how long the tag list and auth config are reused. A
// zero TTL disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	timeout   time.Duration
	userAgent string
	cacheTTL  time.Duration
	cache     *cache.Cache
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Codef(codes.InvalidArgument, "client: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL:   u,
		timeout:   defaultTimeout,
		userAgent: "qavault",
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.cacheTTL > 0 {
		c.cache = cache.New(c.cacheTTL, 2*c.cacheTTL)
	}
	return c, nil
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type request struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
}

type response struct {
	status int
	body   []byte
}

// send performs the request. Only failures to get any response at all are
// returned as errors.
func (c *Client) send(ctx context.Context, r request) (*response, error) {
	u := *c.baseURL
	u.Path += r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, errors.WrapPrefix(err, "client: encoding request", 0)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, errors.WrapPrefix(err, "client: building request", 0)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapPrefix(err, "client: "+r.method+" "+r.path, 0).
			WithCode(codes.Unavailable).
			WithPublicMessage("Could not reach the server")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.WrapPrefix(err, "client: reading response", 0).
			WithCode(codes.Unavailable).
			WithPublicMessage("Could not reach the server")
	}
	logging.Debugw(ctx, "client: response",
		"method", r.method, "path", r.path, "status", resp.StatusCode, "duration", time.Since(start))
	return &response{status: resp.StatusCode, body: b}, nil
}

// call performs an authenticated API request and decodes a successful
// response into out. Non-2xx responses become errors carrying the server's
// detail message.
func (c *Client) call(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status > 299 {
		return apiError(r, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return errors.Mark(ErrBadResponse, 0)
	}
	return nil
}

type errorBody struct {
	Detail string `json:"detail"`
}

func apiError(r request, resp *response) error {
	var eb errorBody
	_ = json.Unmarshal(resp.body, &eb)
	detail := strings.TrimSpace(eb.Detail)
	if detail == "" {
		detail = http.StatusText(resp.status)
	}
	return errors.Codef(errors.CodeFromHTTPStatus(resp.status),
		"client: %s %s: %d %s", r.method, r.path, resp.status, detail).
		WithHTTPStatusCode(resp.status).
		WithPublicMessage(detail)
}
