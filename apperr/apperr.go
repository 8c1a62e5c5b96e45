// Package apperr classifies failures into the kinds the planner surfaces to users.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

type Kind string

const (
	KindNetwork    Kind = "network"
	KindParse      Kind = "parse"
	KindNoData     Kind = "no_data"
	KindPermission Kind = "permission"
	KindUnknown    Kind = "unknown"
)

// Error is a classified failure. Message is safe to show to a user.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error with the default retry policy for its kind.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: retryable(kind), Err: err}
}

func Network(msg string, err error) *Error { return New(KindNetwork, msg, err) }

// StreamParse is a malformed stream payload; the request can be retried.
func StreamParse(msg string, err error) *Error { return New(KindParse, msg, err) }

func NoData(msg string) *Error { return New(KindNoData, msg, nil) }

func Permission(msg string) *Error { return New(KindPermission, msg, nil) }

func retryable(kind Kind) bool {
	switch kind {
	case KindPermission:
		return false
	default:
		return true
	}
}

// Classify returns err as an *Error, inferring the kind when it is not one yet.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var netErr net.Error
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		return Network("The connection was interrupted. Please try again.", err)
	case errors.As(err, &syntaxErr):
		return StreamParse("The response could not be read. Please try again.", err)
	case errors.Is(err, context.Canceled):
		return New(KindUnknown, "The request was cancelled.", err)
	}
	return New(KindUnknown, "Something went wrong. Please try again.", err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
