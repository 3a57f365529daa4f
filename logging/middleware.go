package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/dpup/qavault/errors"
)

const stackSize = 5

// Middleware scopes a logger to each request, named after the route, and
// writes an access log entry once the handler returns. Fields added with
// Track during the request are included in the entry.
func Middleware(logger Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := With(r.Context(), logger.Named(r.Method+" "+r.URL.Path))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if v := recover(); v != nil {
				Track(ctx, "error.panic", true)
				TrackError(ctx, errors.Wrap(v, 2))
				if !rec.wroteHeader {
					rec.Header().Set("Content-Type", "application/json")
					rec.WriteHeader(http.StatusInternalServerError)
					rec.Write([]byte(`{"detail":"Internal Server Error"}`))
				}
			}

			l := FromContext(ctx).
				With("http.status", rec.status).
				With("http.duration", time.Since(start))
			switch {
			case rec.status >= 500:
				l.Error("request failed")
			case rec.status >= 400:
				l.Warn("request rejected")
			default:
				l.Info("request handled")
			}
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// TrackError adds error fields to the logging context, for inclusion in the
// access log.
func TrackError(ctx context.Context, err error) {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if !ok || err == nil {
		return
	}
	c.logger = c.logger.
		With("error", err.Error()).
		With("error.type", reflect.TypeOf(err).String()).
		With("error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		c.logger = c.logger.
			With("error.stack_trace", e.MinimalStack(0, stackSize)).
			With("error.original_type", e.TypeName())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
