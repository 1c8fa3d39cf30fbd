package fasticap

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request-level failures.
//
// The server branches on the kind in order to decide whether to answer
// with a protocol error response, whether the connection may be reused
// and whether the request body must be drained.
type ErrorKind uint8

const (
	// ErrKindServer is a generic service failure (500).
	ErrKindServer ErrorKind = iota

	// ErrKindComposition is a malformed Encapsulated header, an offset
	// mismatch or broken chunk framing (418). The connection cannot be
	// reused after it.
	ErrKindComposition

	// ErrKindBadRequest is a malformed request line or ICAP header (400).
	ErrKindBadRequest

	// ErrKindURITooLong is returned when the request line exceeds
	// Server.MaxRequestLineSize (414).
	ErrKindURITooLong

	// ErrKindServiceNotFound is returned for unregistered paths (404).
	ErrKindServiceNotFound

	// ErrKindMethodNotAllowed is returned for methods the service
	// doesn't implement (405).
	ErrKindMethodNotAllowed

	// ErrKindTimeout is a read timeout. No response is sent for it.
	ErrKindTimeout

	// ErrKindDecode is a content decoding failure of the current body.
	ErrKindDecode
)

var errorKindNames = [...]string{
	ErrKindServer:           "server error",
	ErrKindComposition:      "bad composition",
	ErrKindBadRequest:       "bad request",
	ErrKindURITooLong:       "request-uri too long",
	ErrKindServiceNotFound:  "service not found",
	ErrKindMethodNotAllowed: "method not allowed",
	ErrKindTimeout:          "timeout",
	ErrKindDecode:           "decode error",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// StatusCode returns ICAP status code reported to the peer for k.
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrKindComposition:
		return StatusBadComposition
	case ErrKindBadRequest:
		return StatusBadRequest
	case ErrKindURITooLong:
		return StatusRequestURITooLong
	case ErrKindServiceNotFound:
		return StatusServiceNotFound
	case ErrKindMethodNotAllowed:
		return StatusMethodNotAllowed
	case ErrKindTimeout:
		return StatusRequestTimeout
	default:
		return StatusServerError
	}
}

// Error is the error type returned by the protocol engine.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
//
// This allows errors.Is(err, ErrBadComposition) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks against the error kind.
var (
	ErrBadComposition   = &Error{Kind: ErrKindComposition}
	ErrBadRequest       = &Error{Kind: ErrKindBadRequest}
	ErrURITooLong       = &Error{Kind: ErrKindURITooLong}
	ErrServiceNotFound  = &Error{Kind: ErrKindServiceNotFound}
	ErrMethodNotAllowed = &Error{Kind: ErrKindMethodNotAllowed}
	ErrTimeout          = &Error{Kind: ErrKindTimeout}
	ErrDecode           = &Error{Kind: ErrKindDecode}
)

func compositionError(format string, args ...interface{}) error {
	return &Error{Kind: ErrKindComposition, Msg: fmt.Sprintf(format, args...)}
}

func badRequestError(format string, args ...interface{}) error {
	return &Error{Kind: ErrKindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func decodeError(encoding string, err error) error {
	return &Error{Kind: ErrKindDecode, Msg: fmt.Sprintf("cannot decode %q content", encoding), Err: err}
}

// ErrorKindOf returns the kind of err.
//
// Errors not produced by the engine are reported as ErrKindServer.
func ErrorKindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindServer
}

// ErrorResponse returns the protocol response reporting err to the peer.
func ErrorResponse(err error) *Response {
	return NewResponse(ErrorKindOf(err).StatusCode())
}
