// Package contexerr defines the error kinds the core raises and the HTTP
// status class each one surfaces as, per the error-handling design: retries
// live only in the Dispatcher, every other component fails fast.
package contexerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of HTTP status mapping and
// whether it represents an aborted, partial, or self-healing state.
type Kind int

const (
	KindParse Kind = iota
	KindEmbed
	KindIndex
	KindEventLog
	KindDelivery
	KindCircuitOpen
	KindQuota
	KindUnauthorized
	KindValidation
	KindNotFound
)

// Error wraps an underlying cause with a Kind so callers (typically the HTTP
// surface) can map it to a status code without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindEmbed:
		return "embed_error"
	case KindIndex:
		return "index_error"
	case KindEventLog:
		return "event_log_error"
	case KindDelivery:
		return "delivery_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindQuota:
		return "quota_exceeded"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// StatusClass reports whether an error kind belongs on the caller's side
// (4xx) or the server's side (5xx); the HTTP surface uses this to pick a
// concrete status code.
func (k Kind) StatusClass() int {
	switch k {
	case KindParse, KindValidation, KindUnauthorized, KindQuota, KindNotFound:
		return 4
	default:
		return 5
	}
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Parse(op string, err error) error        { return New(KindParse, op, err) }
func Embed(op string, err error) error        { return New(KindEmbed, op, err) }
func Index(op string, err error) error        { return New(KindIndex, op, err) }
func EventLog(op string, err error) error     { return New(KindEventLog, op, err) }
func Delivery(op string, err error) error     { return New(KindDelivery, op, err) }
func CircuitOpen(op string) error             { return New(KindCircuitOpen, op, errors.New("circuit open")) }
func Quota(op string, err error) error        { return New(KindQuota, op, err) }
func Unauthorized(op string, err error) error { return New(KindUnauthorized, op, err) }
func Validation(op string, err error) error   { return New(KindValidation, op, err) }
func NotFound(op string, err error) error     { return New(KindNotFound, op, err) }

// KindOf extracts the Kind of err if it (or something it wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
