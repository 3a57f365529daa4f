package server

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/dpup/qavault/errors"
	"google.golang.org/grpc/codes"
)

type XFrameOptions string

const (
	XFrameOptionsNone       XFrameOptions = ""
	XFrameOptionsDeny       XFrameOptions = "DENY"
	XFrameOptionsSameOrigin XFrameOptions = "SAMEORIGIN"
)

// HSTS requires a minimum expiration of 1 year for preload.
var ErrBadHSTSExpiration = errors.NewC("server: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders contains the security headers that should be set on HTTP
// responses.
type SecurityHeaders struct {
	// X-Frame-Options controls whether the browser should allow the page to be
	// rendered in a frame or iframe.
	XFrameOptions XFrameOptions

	// Strict-Transport-Security (HSTS) tells the browser to always use HTTPS
	// when connecting to the site.
	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// Access-Control headers define which origins are allowed to access the
	// resource and what methods are allowed. "*" allows any origin.
	CORSOrigins          []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSExposeHeaders    []string
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	// Precomputed fields.
	staticHeaders    map[string]string
	preflightHeaders map[string]string
	allowedOrigins   map[string]bool
	anyOrigin        bool
	mu               sync.Mutex // Protects precomputed fields.
}

// Apply the security headers to the given response. It reports whether the
// request was a CORS preflight that has been fully answered.
func (s *SecurityHeaders) Apply(w http.ResponseWriter, r *http.Request) (bool, error) {
	if err := s.compute(); err != nil {
		return false, err
	}
	for k, v := range s.staticHeaders {
		w.Header().Set(k, v)
	}

	if r == nil || len(s.CORSOrigins) == 0 {
		return false, nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" || !(s.anyOrigin || s.allowedOrigins[origin]) {
		return false, nil
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if s.CORSAllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		for k, v := range s.preflightHeaders {
			w.Header().Set(k, v)
		}
		if len(s.CORSAllowHeaders) == 0 {
			// Mirror what the browser asks for.
			if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
				w.Header().Set("Access-Control-Allow-Headers", h)
			}
		}
		return true, nil
	}
	if len(s.CORSExposeHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(s.CORSExposeHeaders, ", "))
	}
	return false, nil
}

// Middleware applies the headers to every response and answers preflight
// requests.
func (s *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preflight, err := s.Apply(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SecurityHeaders) compute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staticHeaders != nil {
		return nil
	}

	normalizeHeaders(s.CORSAllowHeaders)
	normalizeHeaders(s.CORSExposeHeaders)

	static := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if s.XFrameOptions != XFrameOptionsNone {
		static["X-Frame-Options"] = string(s.XFrameOptions)
	}

	if s.HSTSExpiration > 0 {
		h := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
		if s.HSTSIncludeSubdomains {
			h += "; includeSubDomains"
		}
		if s.HSTSPreload {
			if s.HSTSExpiration < time.Hour*24*365 {
				return errors.Mark(ErrBadHSTSExpiration, 0)
			}
			h += "; preload"
		}
		static["Strict-Transport-Security"] = h
	}

	if len(s.CORSOrigins) > 0 {
		static["Vary"] = "Origin"

		s.preflightHeaders = map[string]string{}
		if len(s.CORSAllowMethods) > 0 {
			s.preflightHeaders["Access-Control-Allow-Methods"] = strings.Join(s.CORSAllowMethods, ", ")
		} else {
			s.preflightHeaders["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
		}
		if len(s.CORSAllowHeaders) > 0 {
			s.preflightHeaders["Access-Control-Allow-Headers"] = strings.Join(s.CORSAllowHeaders, ", ")
		}
		if s.CORSMaxAge > 0 {
			s.preflightHeaders["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
		}

		s.allowedOrigins = map[string]bool{}
		for _, origin := range s.CORSOrigins {
			if origin == "*" {
				s.anyOrigin = true
			}
			s.allowedOrigins[origin] = true
		}
	}

	s.staticHeaders = static
	return nil
}

func normalizeHeaders(h []string) {
	for i, v := range h {
		h[i] = textproto.CanonicalMIMEHeaderKey(v)
	}
}
