package wienernetze

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorKind int

const (
	KindAPI ErrorKind = iota
	KindAuth
	KindConnection
	KindTimeout
	KindRateLimit
	KindNotFound
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	default:
		return "api"
	}
}

// Sentinels for errors.Is. Every *Error matches ErrAPI.
var (
	ErrAPI        = &Error{Kind: KindAPI, Message: "api error"}
	ErrAuth       = &Error{Kind: KindAuth, Message: "authentication error"}
	ErrConnection = &Error{Kind: KindConnection, Message: "connection error"}
	ErrTimeout    = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrRateLimit  = &Error{Kind: KindRateLimit, Message: "rate limit exceeded"}
	ErrNotFound   = &Error{Kind: KindNotFound, Message: "not found"}
	ErrBadRequest = &Error{Kind: KindBadRequest, Message: "bad request"}
)

// Error is returned by every Client operation.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func newError(kind ErrorKind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: status, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wienernetze %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("wienernetze %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrAPI {
		return true
	}
	return e.Kind == t.Kind && (t.StatusCode == 0 || t.StatusCode == e.StatusCode)
}

// transportError classifies a failure below HTTP.
func transportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(KindTimeout, 0, "request timeout", err)
	}
	return newError(KindConnection, 0, "connection error", err)
}

// statusError maps a gateway response status to an error. 401 is handled by
// the caller before this is reached on the first attempt.
func statusError(status int, body []byte) error {
	switch {
	case status == 200:
		return nil
	case status == 400:
		return newError(KindBadRequest, status, fmt.Sprintf("bad request: %s", body), nil)
	case status == 401:
		return newError(KindAuth, status, "unauthorized after re-authentication", nil)
	case status == 403:
		return newError(KindAuth, status, "forbidden: insufficient permissions", nil)
	case status == 404:
		return newError(KindNotFound, status, "resource not found", nil)
	case status == 408:
		return newError(KindTimeout, status, "request timeout", nil)
	case status == 429:
		return newError(KindRateLimit, status, "rate limit exceeded", nil)
	case status >= 500:
		return newError(KindAPI, status, fmt.Sprintf("server error: %d - %s", status, body), nil)
	default:
		return newError(KindAPI, status, fmt.Sprintf("unexpected response: %d - %s", status, body), nil)
	}
}
