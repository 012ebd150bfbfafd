// Package errs defines the typed error kinds a Team Collection's tasks use
// to decide whether to retry, surface, or tear down.
//
// Error handling here is plain stdlib: errors.New and
// fmt.Errorf("...: %w", err), sentinel/kind driven rather than built on a
// third-party errors package.
package errs

import "errors"

// Kind classifies an error for the purposes of this module's retry and
// teardown propagation rules.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCancelled marks cooperative cancellation of a task. Always
	// re-raised; never triggers retries or side effects.
	KindCancelled
	// KindMoveKeysConflict marks a stolen move-keys lock. Surfaced to the
	// caller; the owning Team Collection does not retry internally.
	KindMoveKeysConflict
	// KindRecruitmentFailed marks a worker rejecting or not meaningfully
	// replying to a recruitment attempt. Retryable with back-off.
	KindRecruitmentFailed
	// KindRequestMaybeDelivered marks an RPC whose outcome is uncertain.
	// Treated as retryable.
	KindRequestMaybeDelivered
	// KindTimedOut marks a recruitment or stall deadline exceeded.
	// Retryable; logged as a warning by the caller.
	KindTimedOut
	// KindPeerGone marks a failure-monitor transition to "endpoint gone".
	// The per-server health tracker drives removal; callers do not retry.
	KindPeerGone
	// KindBootstrap marks a fatal error encountered while reading the
	// initial-state snapshot (file-not-found / IO errors from the external
	// storage engine). Fatal for the owning Team Collection instance.
	KindBootstrap
)

// Error wraps an underlying cause with a Kind so callers can switch on
// propagation policy without string matching.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Op
	}
	return e.Op + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a *Error for the given kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf extracts the Kind from err, or KindUnknown if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether this error kind calls for a retry:
// RecruitmentFailed, RequestMaybeDelivered, and TimedOut are all retried
// by the issuing task with jitter.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRecruitmentFailed, KindRequestMaybeDelivered, KindTimedOut:
		return true
	default:
		return false
	}
}

// Fatal reports whether err should tear down the owning Team Collection
// instance outright (KindBootstrap).
func Fatal(err error) bool {
	return KindOf(err) == KindBootstrap
}

var (
	// ErrNotFound is the shared not-found sentinel, reused across
	// internal/store and internal/registry lookups.
	ErrNotFound = errors.New("not found")
	// ErrNoCandidate is returned by selectReplicas-style operations that
	// cannot produce a satisfying subset.
	ErrNoCandidate = errors.New("no satisfying candidate")
)
