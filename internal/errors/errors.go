// Package errors holds the coded errors shared by the REST, websocket and gRPC surfaces.
// A code maps onto a gRPC status and an HTTP status, handlers never pick either by hand.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument = Code(codes.InvalidArgument)
	CodeNotFound        = Code(codes.NotFound)
	CodeAlreadyExists   = Code(codes.AlreadyExists)
	CodeInternal        = Code(codes.Internal)
	CodeUnauthenticated = Code(codes.Unauthenticated)
	CodeUnavailable     = Code(codes.Unavailable)
)

func (c Code) String() string {
	return codes.Code(c).String()
}

// HTTPStatus is 500 for any code without a REST counterpart.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is what every failing operation returns, possibly wrapped.
// Message is safe to show to clients, the cause is only logged.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

type Option func(*Error)

func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

func WithMessagef(format string, args ...any) Option {
	return func(e *Error) { e.Message = fmt.Sprintf(format, args...) }
}

// New defaults the message to the code name.
func New(code Code, opts ...Option) *Error {
	e := &Error{Code: code, Message: code.String()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

func AlreadyExists(format string, args ...any) *Error {
	return New(CodeAlreadyExists, WithMessagef(format, args...))
}

func Unauthenticated(format string, args ...any) *Error {
	return New(CodeUnauthenticated, WithMessagef(format, args...))
}

func Unavailable(format string, args ...any) *Error {
	return New(CodeUnavailable, WithMessagef(format, args...))
}

// Internal hides err from clients behind the generic Internal message.
func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	return e.Code.HTTPStatus()
}

// Convert finds the first *Error in err's chain. Errors without a code become Internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}
	return e
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
