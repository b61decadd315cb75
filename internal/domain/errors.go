package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrLockHeld         = errors.New("lock already held")
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownStatus    = errors.New("unknown order status")
)

// ErrorKind classifies a failure by how the cycle must react to it.
type ErrorKind string

const (
	// KindConnectivity covers broker unreachable or rejected credentials.
	// It is the only kind that aborts a cycle.
	KindConnectivity ErrorKind = "connectivity"
	// KindDataQuality covers missing, short or unusable market data. The
	// affected instrument is skipped for the cycle.
	KindDataQuality ErrorKind = "data_quality"
	// KindOrderPlacement covers broker rejections on submit. The affected
	// position or entry is left untouched for retry.
	KindOrderPlacement ErrorKind = "order_placement"
	// KindReconciliation covers local and broker state that disagree in a way
	// that cannot be merged. Logged; the broker view wins.
	KindReconciliation ErrorKind = "reconciliation"
	// KindStatusLookup covers a single order whose status could not be read.
	KindStatusLookup ErrorKind = "status_lookup"
)

// Error is a categorized cycle error.
type Error struct {
	Kind       ErrorKind
	Op         string
	Instrument string
	Err        error
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op, instrument string, err error) *Error {
	return &Error{Kind: kind, Op: op, Instrument: instrument, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Op
	if e.Instrument != "" {
		msg += " " + e.Instrument
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against another *Error with the same kind, so callers
// can write errors.Is(err, &domain.Error{Kind: domain.KindConnectivity}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
