package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies errors that cross component boundaries.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindUpstreamUnavailable
	KindParse
	KindStore
	KindSink
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindParse:
		return "parse_error"
	case KindStore:
		return "store_error"
	case KindSink:
		return "sink_error"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a cycle may continue after an error of this kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindUpstreamUnavailable, KindParse, KindStore, KindSink:
		return true
	default:
		return false
	}
}

// Error is the error type surfaced by the fetcher, store, sinks and config loader.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Symbol != "" {
		msg += " [" + e.Symbol + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, fault.ErrParse) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// WithSymbol returns a copy tagged with the symbol.
func (e *Error) WithSymbol(symbol string) *Error {
	cp := *e
	cp.Symbol = symbol
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrConfig              = &Error{Kind: KindConfig}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrParse               = &Error{Kind: KindParse}
	ErrStore               = &Error{Kind: KindStore}
	ErrSink                = &Error{Kind: KindSink}
	ErrCancelled           = &Error{Kind: KindCancellation}
)

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error of the given kind from a format string.
func Newf(kind Kind, op, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// Config creates a configuration error.
func Config(op string, err error) *Error { return New(KindConfig, op, err) }

// Upstream creates an upstream-unavailable error.
func Upstream(op string, err error) *Error { return New(KindUpstreamUnavailable, op, err) }

// Parse creates a parse error.
func Parse(op string, err error) *Error { return New(KindParse, op, err) }

// Store creates a store error.
func Store(op string, err error) *Error { return New(KindStore, op, err) }

// Sink creates a sink error.
func Sink(op string, err error) *Error { return New(KindSink, op, err) }

// Cancelled creates a cancellation error.
func Cancelled(op string, err error) *Error { return New(KindCancellation, op, err) }

// KindOf extracts the kind of err. Context cancellation maps to KindCancellation.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancellation
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
