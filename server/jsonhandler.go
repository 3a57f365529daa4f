package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"google.golang.org/grpc/codes"
)

const maxBodyBytes = 1 << 20

// ErrBadRequestBody is returned when a request body can not be decoded.
var ErrBadRequestBody = errors.NewC("invalid request body", codes.InvalidArgument).
	WithPublicMessage("Invalid request body")

// JSONHandler is a HTTP handler whose result is encoded as JSON. Errors are
// written as {"detail": "..."} with the status mapped from the error.
type JSONHandler func(r *http.Request) (any, error)

// withStatus sends a successful response with a status other than 200.
type withStatus struct {
	status int
	body   any
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (fn JSONHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := fn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if ws, ok := resp.(withStatus); ok {
		status, resp = ws.status, ws.body
	}
	b, err := json.Marshal(resp)
	if err != nil {
		writeError(w, r, errors.WrapPrefix(err, "encoding response", 0))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	detail := errors.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		// Internal details stay in the logs.
		detail = http.StatusText(status)
	}
	logging.TrackError(r.Context(), err)

	b, _ := json.Marshal(ErrorResponse{Detail: detail})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Mark(ErrBadRequestBody, 0).Append(err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Mark(ErrBadRequestBody, 0).Append(err.Error())
	}
	return nil
}
