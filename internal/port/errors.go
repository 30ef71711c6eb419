// Package port declares the external collaborators the core subsystem
// consumes: authentication, the repositories, the AI generator, the
// cache, the cross-instance bus, and the clock/metrics facades. The core
// never implements these in production form — it only depends on the
// interfaces. Concrete adapters live under internal/adapter and infra/.
package port

import "errors"

// Kind classifies a core error so transports can map it onto the wire
// error{code, message} shape without the core knowing anything about
// wire formats.
type Kind string

const (
	KindTokenExpired   Kind = "TOKEN_EXPIRED"
	KindInvalidToken   Kind = "INVALID_TOKEN"
	KindInvalidSession Kind = "INVALID_SESSION"
	KindUserNotFound   Kind = "USER_NOT_FOUND"
	KindAccessDenied   Kind = "ACCESS_DENIED"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindInvalidInput   Kind = "MESSAGE_ERROR"
	KindLoadError      Kind = "LOAD_ERROR"
	KindPersistFailed  Kind = "PERSIST_FAILED"
	KindNotFound       Kind = "NOT_FOUND"
	KindTimeout        Kind = "TIMEOUT"
	KindInternal       Kind = "INTERNAL"
)

// Error is the core's typed error. Transports switch on Kind; humans read
// Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed core error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
