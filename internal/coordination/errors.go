package coordination

import "fmt"

// Kind classifies why an engine operation failed, independent of transport.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindDuplicateCode   Kind = "duplicate_code"
	KindInvalidState    Kind = "invalid_state_transition"
	KindConflict        Kind = "conflict"
	KindStore           Kind = "store"
	KindProtocol        Kind = "protocol"
)

// Error is the engine's typed error. The Dispatcher maps Kind to a
// JSON-RPC error code; nothing above the engine should need to inspect
// error strings.
type Error struct {
	Kind   Kind
	Reason string // machine-readable detail, e.g. "already_claimed"
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ValidationErr builds a KindValidation error.
func ValidationErr(format string, args ...interface{}) *Error {
	return newErr(KindValidation, format, args...)
}

// NotFoundErr builds a KindNotFound error.
func NotFoundErr(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

// DuplicateCodeErr builds a KindDuplicateCode error.
func DuplicateCodeErr(code string) *Error {
	return newErr(KindDuplicateCode, "task code already exists: %s", code)
}

// InvalidStateErr builds a KindInvalidState error.
func InvalidStateErr(format string, args ...interface{}) *Error {
	return newErr(KindInvalidState, format, args...)
}

// ConflictErr builds a KindConflict error carrying a machine-readable reason.
func ConflictErr(reason, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// StoreErr wraps an unexpected storage-layer failure.
func StoreErr(err error) *Error {
	return &Error{Kind: KindStore, Msg: "store error", Err: err}
}

// IsKind reports whether err is a coordination *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
