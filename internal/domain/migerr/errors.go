package migerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code standardizes migration failure semantics across components.
type Code string

const (
	CodeMalformedRecord       Code = "malformed_record"
	CodeDuplicateCanonicalKey Code = "duplicate_canonical_key"
	CodeStoreUnavailable      Code = "store_unavailable"
	CodeSchemaConflict        Code = "schema_conflict"
	CodeUnknownType           Code = "unknown_type"
	CodeInternal              Code = "internal"
)

// Error is the canonical migration error wrapper.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a migration error with explicit code + operation.
func New(code Code, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates an existing error with a code. Already-coded errors pass through.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return New(code, op, err.Error(), err)
}

func MalformedRecord(op, format string, args ...any) error {
	return New(CodeMalformedRecord, op, fmt.Sprintf(format, args...), nil)
}

func DuplicateCanonicalKey(op, format string, args ...any) error {
	return New(CodeDuplicateCanonicalKey, op, fmt.Sprintf(format, args...), nil)
}

func StoreUnavailable(op string, cause error) error {
	msg := "graph store unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return New(CodeStoreUnavailable, op, msg, cause)
}

func SchemaConflict(op, format string, args ...any) error {
	return New(CodeSchemaConflict, op, fmt.Sprintf(format, args...), nil)
}

func UnknownType(op, label string) error {
	return New(CodeUnknownType, op, fmt.Sprintf("type %q is not defined", label), nil)
}

// IsCode checks whether err (or a wrapped err) carries the given code.
func IsCode(err error, code Code) bool {
	var coded *Error
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// CodeOf extracts the code when available.
func CodeOf(err error) Code {
	var coded *Error
	if !errors.As(err, &coded) {
		return ""
	}
	return coded.Code
}

// IsFatal reports whether err must abort the whole run rather than a single row.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeDuplicateCanonicalKey, CodeSchemaConflict, CodeUnknownType:
		return true
	default:
		return false
	}
}
