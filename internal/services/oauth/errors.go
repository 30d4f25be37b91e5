package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bobmcallan/passage/internal/interfaces"
)

// ErrorKind classifies a failure for audit logging. Several kinds share the
// same external OAuth2 error code so that callers cannot tell which check failed.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindMismatch            ErrorKind = "mismatch"
	KindExpired             ErrorKind = "expired"
	KindClientMismatch      ErrorKind = "client_mismatch"
	KindInvalidScope        ErrorKind = "invalid_scope"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindUnsupportedGrant    ErrorKind = "unsupported_grant_type"
	KindUnsupportedResponse ErrorKind = "unsupported_response_type"
	KindStoreFailure        ErrorKind = "store_failure"
)

// Operations answered at the authorization endpoint. Their grant-style
// failures are reported as invalid_request, not invalid_grant.
const (
	opAuthorize = "authorize"
	opDecide    = "decide"
)

// Error is the error type returned by every operation in this package.
type Error struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "code_exchange"
	Message string // internal detail, safe to log but not to return to clients
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth %s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("oauth %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OAuthCode is the RFC 6749 error code sent to clients.
func (e *Error) OAuthCode() string {
	switch e.Kind {
	case KindInvalidScope:
		return "invalid_scope"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnsupportedGrant:
		return "unsupported_grant_type"
	case KindUnsupportedResponse:
		return "unsupported_response_type"
	case KindStoreFailure:
		return "server_error"
	}
	if e.atAuthorizationEndpoint() {
		return "invalid_request"
	}
	return "invalid_grant"
}

func (e *Error) atAuthorizationEndpoint() bool {
	return e.Op == opAuthorize || e.Op == opDecide
}

// Description is the client-facing error_description. Only scope and
// request errors are described precisely.
func (e *Error) Description() string {
	switch e.Kind {
	case KindInvalidScope, KindInvalidRequest, KindUnsupportedGrant, KindUnsupportedResponse:
		return e.Message
	case KindStoreFailure:
		return "The server encountered an internal error"
	}
	if e.atAuthorizationEndpoint() {
		return "The authorization request is invalid"
	}
	return "The provided authorization grant is invalid"
}

// Status is the HTTP status for the error.
func (e *Error) Status() int {
	if e.Kind == KindStoreFailure {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func newError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// storeError converts a store error: wrapped ErrNotFound becomes KindNotFound
// with the given message, anything else is a store failure.
func storeError(op, notFoundMessage string, err error) *Error {
	if errors.Is(err, interfaces.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Message: notFoundMessage, Err: err}
	}
	return &Error{Kind: KindStoreFailure, Op: op, Message: "store operation failed", Err: err}
}

func storeFailure(op, message string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Op: op, Message: message, Err: err}
}
