package store

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes carried in `{"error","code"}` bodies between server and client.
const (
	CodeNotFound     = "not_found"
	CodeExists       = "exists"
	CodeConflict     = "conflict"
	CodeInvalid      = "invalid"
	CodeDisconnected = "disconnected"
	CodeInternal     = "internal"
)

// ErrorBody is the JSON error response of the store server.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CodeOf maps an error to its wire code and HTTP status.
func CodeOf(err error) (string, int) {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrExists):
		return CodeExists, http.StatusConflict
	case errors.Is(err, ErrConflict):
		return CodeConflict, http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return CodeInvalid, http.StatusBadRequest
	case errors.Is(err, ErrDisconnected):
		return CodeDisconnected, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// FromCode rebuilds a sentinel-wrapping error from a wire code.
func FromCode(code, msg string) error {
	var base error
	switch code {
	case CodeNotFound:
		base = ErrNotFound
	case CodeExists:
		base = ErrExists
	case CodeConflict:
		base = ErrConflict
	case CodeInvalid:
		base = ErrInvalid
	case CodeDisconnected:
		base = ErrDisconnected
	default:
		return fmt.Errorf("server error: %s", msg)
	}
	if msg == "" || msg == base.Error() {
		return base
	}
	if rest, ok := strings.CutPrefix(msg, base.Error()); ok {
		return fmt.Errorf("%w%s", base, rest)
	}
	return fmt.Errorf("%w: %s", base, msg)
}
