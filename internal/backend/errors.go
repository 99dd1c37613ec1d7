package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies a failed upstream call. The set is closed: callers switch
// on it exhaustively instead of unwrapping transport internals.
type Kind int

const (
	// KindTimeout covers deadline expiry while connecting, waiting for
	// response headers, or reading a buffered body.
	KindTimeout Kind = iota

	// KindConnectionFailed covers dial errors, DNS failures, resets and
	// refused connections.
	KindConnectionFailed

	// KindOther covers everything else, e.g. a body cut off mid-read.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection_failed"
	default:
		return "other"
	}
}

// Error is the tagged failure returned by every Client call that did not
// produce an upstream response.
type Error struct {
	Kind Kind
	Op   string // "complete", "stream" or "models"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a backend timeout.
func IsTimeout(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindTimeout
}

// classify maps a raw transport error onto the closed Kind set. Timeouts are
// checked first because Go surfaces them in several shapes (context deadline,
// client timeout, dial timeout, header timeout).
func classify(op string, err error) *Error {
	kind := KindOther

	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = KindTimeout
	default:
		var (
			oe *net.OpError
			ue *url.Error
		)
		if errors.As(err, &oe) || errors.As(err, &ue) {
			kind = KindConnectionFailed
		}
	}

	return &Error{Kind: kind, Op: op, Err: err}
}
