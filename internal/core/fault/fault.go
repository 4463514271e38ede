// Package fault defines the closed error taxonomy shared by every backend
// adapter. Adapters classify provider errors at the boundary so callers only
// ever inspect a Kind.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the variant of a classified error.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindNotFound         Kind = "not_found"
	KindProviderRejected Kind = "provider_rejected"
	KindUnknown          Kind = "unknown"
)

// CodeNoRows is the row-store code for "no row found".
const CodeNoRows = "PGRST116"

// Error is a classified backend error. Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "auth.sign_in"
	Message string
	Status  int    // HTTP-ish status reported by the provider, 0 if none
	Code    string // provider error code, e.g. PGRST116
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoUser is returned by operations that need an authenticated user.
var ErrNoUser = &Error{Kind: KindProviderRejected, Message: "No user logged in"}

// Network builds a network error.
func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "network request failed", Err: err}
}

// Timeout builds a timeout error for an operation raced against d.
func Timeout(op string, d time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Op:      op,
		Message: fmt.Sprintf("timed out after %s", d),
		Err:     context.DeadlineExceeded,
	}
}

// NotFound builds a not-found error.
func NotFound(op string, code string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: "not found", Code: code, Status: 406}
}

// Rejected builds a provider-rejected error carrying the provider's message verbatim.
func Rejected(op string, status int, message string) *Error {
	return &Error{Kind: KindProviderRejected, Op: op, Message: message, Status: status}
}

// Classify converts any error into an *Error. Nil stays nil.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
		}
		return Network(op, err)
	}

	return &Error{Kind: KindUnknown, Op: op, Message: err.Error(), Err: err}
}

// KindOf returns the Kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// IsTransient reports whether err should fall back to cached data.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTimeout || k == KindNetwork
}
