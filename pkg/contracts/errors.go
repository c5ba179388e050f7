package contracts

import (
	"errors"
	"fmt"
)

// Kind is the stable error tag surfaced across the broker boundary.
// Callers branch on the kind, never on message text; internal store
// errors are never carried inside a kind's message.
type Kind string

const (
	// Input errors — caller's fault, safe to show verbatim, never retried.
	KindNotFound   Kind = "NotFound"
	KindValidation Kind = "Validation"
	KindConflict   Kind = "Conflict"
	KindNoChange   Kind = "NoChange"

	// Protocol errors — the two-phase state assumptions no longer hold.
	// Caller should re-run the preview step.
	KindExpired         Kind = "Expired"
	KindAlreadyConsumed Kind = "AlreadyConsumed"
	KindStale           Kind = "Stale"

	// System errors — logged with full detail server-side, surfaced only
	// as a generic transient failure. Safe to retry with backoff.
	KindTransient Kind = "Transient"

	// Security errors — capability violation. Fatal to the request; the
	// message never names the specific check that failed.
	KindPermissionDenied Kind = "PermissionDenied"
)

// Error is the broker's caller-visible error. It carries the stable kind
// plus the minimum domain context needed to act on it.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	ItemID  int64  `json:"item_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Hint    string `json:"hint,omitempty"`

	// cause is retained for server-side logging only. It is unwrapped by
	// errors.Is/As but never rendered into Message.
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match two broker errors by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// E constructs a broker error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapTransient wraps an internal error as a generic transient failure.
// The original error stays attached for server-side logs but the
// caller-visible message is fixed.
func WrapTransient(err error) *Error {
	return &Error{
		Kind:    KindTransient,
		Message: "temporary storage failure, retry later",
		cause:   err,
	}
}

// PermissionDenied returns the security error. Deliberately uniform: the
// message must not reveal which privilege check failed.
func PermissionDenied() *Error {
	return &Error{Kind: KindPermissionDenied, Message: "operation not permitted"}
}

// NotFoundItem reports a missing record.
func NotFoundItem(itemID int64) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("item %d not found", itemID), ItemID: itemID}
}

// HintConflict reports a disambiguation hint that does not match the
// record's descriptive field. Both strings are named so the caller can
// see what the broker compared.
func HintConflict(itemID int64, hint, product string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf("hint %q does not match item %d product %q", hint, itemID, product),
		ItemID:  itemID,
		Hint:    hint,
	}
}

// KindOf extracts the stable kind from any error chain. Unrecognized
// errors are classified as transient so raw internals never leak.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
