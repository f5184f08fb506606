// Package apperr defines the error-kind vocabulary shared by every layer
// of the matter analysis engine, so a storage error, a safety-guard block,
// and a malformed request all collapse into one wire shape at the
// transport boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, wire-visible error category. Kinds are never derived
// from underlying driver errors (e.g. sql.ErrNoRows) directly; callers
// translate at the package boundary so internal storage choices never
// leak into the API.
type Kind string

const (
	MatterNotFound             Kind = "MATTER_NOT_FOUND"
	InvalidParameter           Kind = "INVALID_PARAMETER"
	DatabaseNotConfigured      Kind = "DATABASE_NOT_CONFIGURED"
	SearchFailed               Kind = "SEARCH_FAILED"
	QueryBlocked               Kind = "QUERY_BLOCKED"
	MemoryLimitExceeded        Kind = "MEMORY_LIMIT_EXCEEDED"
	PageRangeInvalid           Kind = "PAGE_RANGE_INVALID"
	ChecksumMismatch           Kind = "CHECKSUM_MISMATCH"
	BBoxCountMismatch          Kind = "BBOX_COUNT_MISMATCH"
	CitationVerificationFailed Kind = "CITATION_VERIFICATION_FAILED"
	InvalidJobStatus           Kind = "INVALID_JOB_STATUS"
	BulkLimitExceeded          Kind = "BULK_LIMIT_EXCEEDED"
	ItemNotFound               Kind = "ITEM_NOT_FOUND"
	StreamError                Kind = "STREAM_ERROR"
)

// retryable is the default retry classification per kind, matching the
// table in the design notes. Individual errors can still override this
// with WithRetryable.
var retryable = map[Kind]bool{
	MatterNotFound:             false,
	InvalidParameter:           false,
	DatabaseNotConfigured:      true,
	SearchFailed:               true,
	QueryBlocked:               false,
	MemoryLimitExceeded:        false,
	PageRangeInvalid:           false,
	ChecksumMismatch:           false,
	BBoxCountMismatch:          false,
	CitationVerificationFailed: false,
	InvalidJobStatus:           false,
	BulkLimitExceeded:          false,
	ItemNotFound:               false,
	StreamError:                true,
}

// Error is the single error type every package in this module returns
// for anything the caller might need to branch on. Internal causes that
// carry no useful information to the caller (a closed file handle, a
// context cancellation) are wrapped via Cause and never surfaced in
// Message.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with the default retryability for kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable[kind]}
}

// Wrap builds an Error around cause, preserving it for errors.Is/As chains
// while keeping Message caller-facing.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable[kind], Cause: cause}
}

// WithRetryable overrides the default retry classification.
func (e *Error) WithRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

// KindOf extracts the Kind from err, returning "" if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
