package auth

import "fmt"

// Kind classifies authentication failures. The set is closed; callers map
// kinds to protocol-level faults.
type Kind int

const (
	// KindAuth covers credential and session-validity failures.
	KindAuth Kind = iota + 1
	// KindExpired marks calls against an expired session.
	KindExpired
	// KindLock marks exclusivity conflicts.
	KindLock
	// KindSequence marks call-number regression.
	KindSequence
	// KindRetry marks unsafe replay of a non-idempotent call.
	KindRetry
	// KindNotAllowed marks authorization failures.
	KindNotAllowed
	// KindGeneric covers remaining misuse (double login, subsession
	// exclusivity, invalid arguments).
	KindGeneric
)

// Error is a typed authentication failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches any *Error of the same kind, so sentinel comparisons with
// errors.Is work regardless of the formatted message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks. Raised errors carry specific messages.
var (
	ErrAuth             = &Error{Kind: KindAuth, Msg: "authentication failed"}
	ErrExpired          = &Error{Kind: KindExpired, Msg: "session expired"}
	ErrLock             = &Error{Kind: KindLock, Msg: "user locked by another session"}
	ErrSequence         = &Error{Kind: KindSequence, Msg: "call number out of sequence"}
	ErrRetry            = &Error{Kind: KindRetry, Msg: "unsafe retry"}
	ErrActionNotAllowed = &Error{Kind: KindNotAllowed, Msg: "action not allowed"}
	ErrGeneric          = &Error{Kind: KindGeneric, Msg: "invalid operation"}
)

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
