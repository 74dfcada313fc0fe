// Package vaulterr defines the node's error kinds as a typed enum so that
// HTTP adapters are the only code translating a failure into a status code.
package vaulterr

import "fmt"

// Kind is a machine-readable failure category. It is never coerced to
// KindInternal unless the caller genuinely has no more information.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindPayloadTooLarge
	KindCIDMismatch
	KindBlobNotFound
	KindBlobBanned
	KindMetadataTampered
	KindReplicationStateTampered
	KindStorageFull
	KindCapacityExceeded
	KindGCAlreadyRunning
	KindEnvironmentMismatch
	KindNodeNotConfigured
	KindNodeNotRegistered
	KindRegistrationCheckFailed
	KindForbidden
	KindContentTypeRejected
	KindGuildBlocked
	KindFeedNotFound
	KindFeedExists
	KindFeedUnauthorized
	KindInvalidSignature
	KindProofStale
	KindProofInFuture
	KindRateLimited
)

var names = map[Kind]string{
	KindInternal:                 "Internal",
	KindInvalidRequest:           "InvalidRequest",
	KindPayloadTooLarge:          "PayloadTooLarge",
	KindCIDMismatch:              "CidMismatch",
	KindBlobNotFound:             "BlobNotFound",
	KindBlobBanned:               "BlobBanned",
	KindMetadataTampered:         "MetadataTampered",
	KindReplicationStateTampered: "ReplicationStateTampered",
	KindStorageFull:              "StorageFull",
	KindCapacityExceeded:         "CapacityExceeded",
	KindGCAlreadyRunning:         "GcAlreadyRunning",
	KindEnvironmentMismatch:      "EnvironmentMismatch",
	KindNodeNotConfigured:        "NodeNotConfigured",
	KindNodeNotRegistered:        "NodeNotRegistered",
	KindRegistrationCheckFailed:  "RegistrationCheckFailed",
	KindForbidden:                "Forbidden",
	KindContentTypeRejected:      "ContentTypeRejected",
	KindGuildBlocked:             "GuildBlocked",
	KindFeedNotFound:             "FeedNotFound",
	KindFeedExists:               "FeedExists",
	KindFeedUnauthorized:         "FeedUnauthorized",
	KindInvalidSignature:         "InvalidSignature",
	KindProofStale:               "ProofStale",
	KindProofInFuture:            "ProofInFuture",
	KindRateLimited:              "RateLimited",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// Error pairs a machine kind with a human message and an optional cause.
// Integrity failures (MetadataTampered, ReplicationStateTampered,
// CidMismatch) must always be surfaced this way — never swallowed.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap builds an *Error that carries err as its cause.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// As extracts the Kind of err, returning (KindInternal, false) if err is
// not (or does not wrap) a *vaulterr.Error.
func As(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return KindInternal, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
