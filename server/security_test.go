package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preflight(url string) *http.Request {
	r := httptest.NewRequest(http.MethodOptions, url, nil)
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return r
}

func TestSecurityHeaders(t *testing.T) {
	base := map[string]string{
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"X-Content-Type-Options": "nosniff",
	}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name            string
		req             *http.Request
		conf            *SecurityHeaders
		expectedHeaders map[string]string
		expectedError   error
		preflight       bool
	}{
		{
			name:            "empty",
			conf:            &SecurityHeaders{},
			expectedHeaders: base,
		},
		{
			name:            "x-frame-options-deny",
			conf:            &SecurityHeaders{XFrameOptions: XFrameOptionsDeny},
			expectedHeaders: with(map[string]string{"X-Frame-Options": "DENY"}),
		},
		{
			name:            "hsts expiration only",
			conf:            &SecurityHeaders{HSTSExpiration: time.Hour * 24},
			expectedHeaders: with(map[string]string{"Strict-Transport-Security": "max-age=86400"}),
		},
		{
			name: "hsts full",
			conf: &SecurityHeaders{
				HSTSExpiration:        time.Hour * 24 * 365,
				HSTSIncludeSubdomains: true,
				HSTSPreload:           true,
			},
			expectedHeaders: with(map[string]string{
				"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
			}),
		},
		{
			name: "hsts full short expiration",
			conf: &SecurityHeaders{
				HSTSExpiration: time.Hour * 24,
				HSTSPreload:    true,
			},
			expectedError: ErrBadHSTSExpiration,
		},
		{
			name:            "cors different origin",
			req:             preflight("https://example.com"),
			conf:            &SecurityHeaders{CORSOrigins: []string{"https://something.com"}},
			expectedHeaders: with(map[string]string{"Vary": "Origin"}),
		},
		{
			name: "cors preflight",
			req:  preflight("https://example.com/tags"),
			conf: &SecurityHeaders{CORSOrigins: []string{"https://example.com"}},
			expectedHeaders: with(map[string]string{
				"Vary":                         "Origin",
				"Access-Control-Allow-Origin":  "https://example.com",
				"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
			}),
			preflight: true,
		},
		{
			name: "cors any origin",
			req:  preflight("https://example.com/tags"),
			conf: &SecurityHeaders{
				CORSOrigins:          []string{"*"},
				CORSAllowMethods:     []string{"GET"},
				CORSAllowHeaders:     []string{"authorization", "content-type"},
				CORSAllowCredentials: true,
				CORSMaxAge:           time.Hour,
			},
			expectedHeaders: with(map[string]string{
				"Vary":                             "Origin",
				"Access-Control-Allow-Origin":      "https://example.com",
				"Access-Control-Allow-Methods":     "GET",
				"Access-Control-Allow-Headers":     "Authorization, Content-Type",
				"Access-Control-Allow-Credentials": "true",
				"Access-Control-Max-Age":           "3600",
			}),
			preflight: true,
		},
		{
			name: "cors expose headers on get request",
			req:  httptest.NewRequest(http.MethodGet, "https://example.com/all", nil),
			conf: &SecurityHeaders{
				CORSOrigins:       []string{"https://example.com"},
				CORSAllowHeaders:  []string{"X-Allowed"},
				CORSExposeHeaders: []string{"X-Exposed"},
			},
			expectedHeaders: with(map[string]string{
				"Vary":                          "Origin",
				"Access-Control-Allow-Origin":   "https://example.com",
				"Access-Control-Expose-Headers": "X-Exposed",
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.req
			if r != nil {
				r.Header.Set("Origin", r.URL.Scheme+"://"+r.URL.Hostname())
			}
			w := httptest.NewRecorder()

			isPreflight, err := tt.conf.Apply(w, r)
			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.preflight, isPreflight)

			result := w.Result()
			for k, v := range tt.expectedHeaders {
				assert.Equal(t, v, result.Header.Get(k), "unexpected header value: %s", k)
			}
			for k := range result.Header {
				_, ok := tt.expectedHeaders[k]
				assert.True(t, ok, "unexpected header present: %s", k)
			}
		})
	}
}

func TestSecurityHeaders_Middleware(t *testing.T) {
	sh := &SecurityHeaders{CORSOrigins: []string{"https://app.example.com"}}
	called := false
	h := sh.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := preflight("http://localhost/tags")
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Headers", "authorization")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "authorization", w.Header().Get("Access-Control-Allow-Headers"))
	assert.False(t, called, "preflight is answered by the middleware")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://localhost/tags", nil))
	assert.True(t, called)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
