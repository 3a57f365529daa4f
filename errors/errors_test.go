package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestCode(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil), "code should be OK")

	err := fmt.Errorf("test error")
	assert.Equal(t, codes.Unknown, Code(err), "code should be unknown")

	err = WithCode(err, codes.InvalidArgument)
	assert.Equal(t, codes.InvalidArgument, Code(err), "code should be InvalidArgument")

	err = WithCode(err, codes.AlreadyExists)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should be AlreadyExists")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should still be AlreadyExists")
}

func TestHttpStatusCode(t *testing.T) {
	assert.Equal(t, 200, HTTPStatusCode(nil), "non errors should 200")

	err := fmt.Errorf("test error")
	assert.Equal(t, 500, HTTPStatusCode(err), "should default to 500")

	err = WithCode(err, codes.FailedPrecondition)
	assert.Equal(t, 412, HTTPStatusCode(err), "code should map to 412 http error")

	err = WithHTTPStatusCode(err, 409)
	assert.Equal(t, 409, HTTPStatusCode(err), "http status code should override code")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, 409, HTTPStatusCode(err), "http status code should still be 409")
}

func TestCodeFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   codes.Code
	}{
		{http.StatusOK, codes.OK},
		{http.StatusAccepted, codes.OK},
		{http.StatusBadRequest, codes.InvalidArgument},
		{http.StatusUnauthorized, codes.Unauthenticated},
		{http.StatusForbidden, codes.PermissionDenied},
		{http.StatusNotFound, codes.NotFound},
		{http.StatusBadGateway, codes.Unavailable},
		{http.StatusInternalServerError, codes.Internal},
		{599, codes.Internal},
		{418, codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFromHTTPStatus(tt.status))
		})
	}
}

func TestPrefix(t *testing.T) {
	err := fmt.Errorf("test error")
	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, "wrapped: test error", err.Error(), "error should have prefix")
}

func TestPublicMessage(t *testing.T) {
	err := New("test error")
	assert.Equal(t, "test error", err.PublicMessage())

	err = err.WithPublicMessage("public message")
	assert.Equal(t, "public message", err.PublicMessage())
	assert.Equal(t, "public message", PublicMessage(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, "plain", PublicMessage(fmt.Errorf("plain")))
	assert.Equal(t, "", PublicMessage(nil))
}

func TestWrappedError(t *testing.T) {
	err := NewC("test error", codes.InvalidArgument)
	wrappedErr := fmt.Errorf("%w : wrapped error", err)

	assert.Equal(t, codes.InvalidArgument, Code(wrappedErr))
}

func TestMark(t *testing.T) {
	err := NewC("test error", codes.InvalidArgument).WithPublicMessage("nope")
	markedErr := Mark(err, 0)

	assert.True(t, Is(markedErr, err), "Marked error should still satisfy Is")
	assert.ErrorIs(t, markedErr, err, "Marked error should satisfy the standard library")
	assert.Equal(t, codes.InvalidArgument, Code(markedErr))
	assert.Equal(t, "nope", markedErr.PublicMessage())
	assert.NotSame(t, err, markedErr)
}

func TestAppend(t *testing.T) {
	err := NewC("base", codes.Internal).WithPublicMessage("public")
	err = err.Append("extra")
	assert.Equal(t, "base: extra", err.Error())
	assert.Equal(t, "public", err.PublicMessage())

	sentinel := NewC("sentinel", codes.NotFound)
	marked := Mark(sentinel, 0).Append("detail")
	assert.ErrorIs(t, marked, sentinel, "appending to a marked sentinel keeps it matchable")
	assert.Equal(t, "sentinel", sentinel.Error(), "the sentinel itself is untouched")
}

func TestMaybeWrap(t *testing.T) {
	assert.NoError(t, MaybeWrap(nil, 0))
	assert.Error(t, MaybeWrap(io.EOF, 0))
	assert.True(t, Is(MaybeWrap(io.EOF, 0), io.EOF))
}

func TestMinimalStack(t *testing.T) {
	err := New("boom")
	stack := err.MinimalStack(0, 2)
	if assert.NotEmpty(t, stack) {
		assert.Contains(t, stack[0], "TestMinimalStack")
	}
	assert.Nil(t, err.MinimalStack(1000, 2))
}

type customIsError struct {
	Key string
	Err error
}

func (ewci customIsError) Error() string {
	return "[" + ewci.Key + "]: " + ewci.Err.Error()
}

func (ewci customIsError) Is(target error) bool {
	matched, ok := target.(customIsError)
	return ok && matched.Key == ewci.Key
}

func TestIs(t *testing.T) {
	regularErr := fmt.Errorf("just a regular error")

	custErr := customIsError{
		Key: "TestForFun",
		Err: io.EOF,
	}

	shouldMatch := customIsError{
		Key: "TestForFun",
	}

	shouldNotMatch := customIsError{Key: "notOk"}

	tests := []struct {
		name     string
		target   error
		original error
		want     bool
	}{
		{name: "custom error with same key", target: custErr, original: shouldMatch, want: true},
		{name: "custom error with different key", target: custErr, original: shouldNotMatch, want: false},
		{name: "custom error with same key, wrapped", target: Wrap(custErr, 0), original: shouldMatch, want: true},
		{name: "custom error with different key, wrapped", target: Wrap(custErr, 0), original: shouldNotMatch, want: false},
		{name: "wrapped custom error with same key", target: custErr, original: Wrap(shouldMatch, 0), want: true},
		{name: "wrapped custom error with different key", target: custErr, original: Wrap(shouldNotMatch, 0), want: false},
		{name: "regular error", target: regularErr, original: regularErr, want: true},
		{name: "regular error, wrapped", target: Wrap(regularErr, 0), original: regularErr, want: true},
		{name: "regular error, wrapped original", target: regularErr, original: Wrap(regularErr, 0), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.target, tt.original); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
