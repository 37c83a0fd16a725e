// Package perr classifies protocol errors into the small set of kinds the
// dispatcher and outbound connector need to act on, the way the teacher
// codebase's internal/proxy_error sentinel set let callers distinguish
// handshake-timeout from auth-failure from transfer errors. Where the
// teacher kept one errors.go per protocol package with no shared
// classification, every protocol package here still defines its own
// fine-grained sentinel errors.New values but tags each with a Kind via
// Wrap, so a caller that only cares "can I ask for more bytes, or must I
// fail the connection" never needs to know every protocol's private error
// set.
package perr

import (
	"errors"
	"fmt"
)

// Kind is the small, closed set of error classes spec §7 requires every
// protocol codec to be able to report.
type Kind int

const (
	// KindUnknown is the zero value; never produced by Wrap.
	KindUnknown Kind = iota
	// KindNeedMore means the codec consumed no terminal error and simply
	// needs more bytes than were available; never logged as a failure.
	KindNeedMore
	// KindInvalidFrame means the bytes seen could never be completed into
	// a valid frame regardless of how many more arrive.
	KindInvalidFrame
	// KindAuthenticationFailed means a credential, password digest or AEAD
	// tag check failed.
	KindAuthenticationFailed
	// KindProtocolViolation means a peer sent a structurally valid frame
	// that violates a protocol invariant (bad command, bad version).
	KindProtocolViolation
	// KindUpstreamUnavailable means the outbound connector could not reach
	// the requested destination.
	KindUpstreamUnavailable
	// KindCancelled means the operation's context was cancelled or timed
	// out.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNeedMore:
		return "need_more"
	case KindInvalidFrame:
		return "invalid_frame"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with the underlying sentinel/wrapped error so
// errors.Is/As keep working against the protocol package's own sentinels.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. If err is nil, Wrap returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf tags fmt.Errorf(format, args...) with kind, joined with cause as the
// teacher's errors.Join(sentinel, cause) idiom does.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	return Wrap(kind, errors.Join(fmt.Errorf(format, args...), cause))
}

// KindOf reports the Kind of err, or KindUnknown if err was never Wrapped.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
