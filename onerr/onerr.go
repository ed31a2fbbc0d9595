// Package onerr defines the stable error-code contract shared by every
// layer of the ONE core (spec §7 "Error taxonomy"). Error messages are
// informational; the Code string is the part of the contract that must
// never change once shipped.
//
// Grounded on the teacher's convention of hard-failing with a descriptive
// string at engine boundaries (storage/persistence-files.go's panic(err) on
// unexpected I/O failure); this package converts that convention into
// idiomatic Go errors per the spec's Design Notes ("Exceptions for control
// flow. Convert to Result<T, Error>").
package onerr

import "fmt"

// E is a coded error: every engine-level failure wraps one of these so
// callers can switch on its Code field (or CodeOf(err)) without
// string-matching Error().
type E struct {
	Code    string
	Message string
	Cause   error
}

func New(code, message string) *E {
	return &E{Code: code, Message: message}
}

func Wrap(code, message string, cause error) *E {
	return &E{Code: code, Message: message, Cause: cause}
}

func (e *E) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.Cause }

// CodeOf extracts the stable code from any error in the chain, or "" if
// none of the wrapped errors is an *E.
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Stable error codes referenced by name throughout the spec (§7/§8).
const (
	CodeUnknownType         = "O2M-UTYP1"
	CodeDuplicateType       = "O2M-DUPT1"
	CodeRuleMissingValue    = "O2M-RMV1"
	CodeTypeMismatch        = "O2M-TYM1"
	CodeBadReference        = "O2M-RTYC4"
	CodeSuperfluousProperty = "O2M-SPROP1"
	CodeNoIDRules           = "O2M-NOID1"
	CodeDecodeShape         = "O2M-DECODE1"

	CodeFileNotFound    = "SB-NOENT1"
	CodeAlreadyExists   = "SB-EXIST1"
	CodeFatalStorage    = "SB-FATAL1"
	CodeReadStream      = "SB-READ2"
	CodeWriteStream     = "SB-WRITE1"
	CodeShardMismatch   = "SB-SHARD1"

	CodeTimeout            = "USS-TIMEOUT1"
	CodeQueueFull          = "USS-QLEN1"
	CodePendingPromisesMax = "USS-PPEND1"

	CodeRemoteError   = "WSRQ-JRMH1"
	CodeTransportClose = "WS-CLOSE"
	CodeInvalidFrame  = "WS-FRAME1"
)
