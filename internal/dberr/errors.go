// Package dberr defines the error kinds raised by the cursor and business
// object layers.
//
// Every error is a *Error carrying a Code. Callers classify with the Is*
// helpers, which use errors.As so wrapped errors still match.
package dberr

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code categorizes data-layer errors.
type Code string

const (
	// CodeNoRecords indicates an operation required at least one row.
	CodeNoRecords Code = "NO_RECORDS"

	// CodeRowNotFound indicates a row index outside the current bounds.
	CodeRowNotFound Code = "ROW_NOT_FOUND"

	// CodeFieldNotFound indicates a name that is neither a schema nor a virtual field.
	CodeFieldNotFound Code = "FIELD_NOT_FOUND"

	// CodeMissingPrimaryKey indicates the key field is unset or absent from the schema.
	CodeMissingPrimaryKey Code = "MISSING_PRIMARY_KEY"

	// CodeBusinessRule indicates a before-hook or validator rejected the operation.
	CodeBusinessRule Code = "BUSINESS_RULE_VIOLATION"

	// CodeConnectionLost indicates a transport-level failure.
	CodeConnectionLost Code = "CONNECTION_LOST"

	// CodeQueryFailed indicates any other backend failure.
	CodeQueryFailed Code = "QUERY_FAILED"

	// CodeBeginningOfFile indicates navigation before the first row.
	CodeBeginningOfFile Code = "BEGINNING_OF_FILE"

	// CodeEndOfFile indicates navigation past the last row.
	CodeEndOfFile Code = "END_OF_FILE"

	// CodeNoRowsDeleted indicates the pre-delete count check matched nothing.
	CodeNoRowsDeleted Code = "NO_ROWS_DELETED"

	// CodeTransactionHeld indicates another token already owns the transaction.
	CodeTransactionHeld Code = "TRANSACTION_HELD"

	// CodeNotHolder indicates commit/rollback with a token that does not own the transaction.
	CodeNotHolder Code = "NOT_TRANSACTION_HOLDER"
)

// Error is the concrete error type for the data layer.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description. For business rule
	// violations it is the text returned by the rejecting hook.
	Message string

	// Field names the field involved, if any.
	Field string

	// Row is the row index involved, or -1.
	Row int

	// Err is the underlying cause, typically a driver error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Row >= 0 {
		msg += fmt.Sprintf(" (row=%d)", e.Row)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with no field or row context.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Row: -1}
}

// NoRecords reports an empty record set.
func NoRecords() *Error {
	return New(CodeNoRecords, "no records in data set")
}

// RowNotFound reports an out-of-range row index.
func RowNotFound(row, count int) *Error {
	return &Error{
		Code:    CodeRowNotFound,
		Message: fmt.Sprintf("row %d out of range (row count %d)", row, count),
		Row:     row,
	}
}

// FieldNotFound reports an unknown field name.
func FieldNotFound(field string) *Error {
	return &Error{Code: CodeFieldNotFound, Message: "field not found", Field: field, Row: -1}
}

// MissingPrimaryKey reports a missing or unknown key field.
func MissingPrimaryKey(detail string) *Error {
	return New(CodeMissingPrimaryKey, detail)
}

// BusinessRule reports a vetoed operation. msg is shown to the user as-is.
func BusinessRule(msg string) *Error {
	return New(CodeBusinessRule, msg)
}

// FromDriver classifies a backend error as CONNECTION_LOST or QUERY_FAILED.
// A nil err returns nil; an err that is already an *Error is returned unchanged.
//
// Structured signals are checked first. The substring test on "connect" is
// kept for drivers that only report connection failures as text.
func FromDriver(err error, sqlText string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	code := CodeQueryFailed
	if isConnectionError(err) {
		code = CodeConnectionLost
	}
	return &Error{Code: code, Message: trimSQL(sqlText), Row: -1, Err: err}
}

// ConnError lets a dialect mark an error as a transport failure.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

func isConnectionError(err error) bool {
	var ce *ConnError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connect")
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNoRecords reports whether err is a NO_RECORDS error.
func IsNoRecords(err error) bool { return hasCode(err, CodeNoRecords) }

// IsRowNotFound reports whether err is a ROW_NOT_FOUND error.
func IsRowNotFound(err error) bool { return hasCode(err, CodeRowNotFound) }

// IsFieldNotFound reports whether err is a FIELD_NOT_FOUND error.
func IsFieldNotFound(err error) bool { return hasCode(err, CodeFieldNotFound) }

// IsMissingPrimaryKey reports whether err is a MISSING_PRIMARY_KEY error.
func IsMissingPrimaryKey(err error) bool { return hasCode(err, CodeMissingPrimaryKey) }

// IsBusinessRule reports whether err is a BUSINESS_RULE_VIOLATION.
func IsBusinessRule(err error) bool { return hasCode(err, CodeBusinessRule) }

// IsConnectionLost reports whether err is a CONNECTION_LOST error.
func IsConnectionLost(err error) bool { return hasCode(err, CodeConnectionLost) }

// IsQueryFailed reports whether err is a QUERY_FAILED error.
func IsQueryFailed(err error) bool { return hasCode(err, CodeQueryFailed) }

// IsBeginningOfFile reports whether err is a BEGINNING_OF_FILE error.
func IsBeginningOfFile(err error) bool { return hasCode(err, CodeBeginningOfFile) }

// IsEndOfFile reports whether err is an END_OF_FILE error.
func IsEndOfFile(err error) bool { return hasCode(err, CodeEndOfFile) }

// IsNoRowsDeleted reports whether err is a NO_ROWS_DELETED error.
func IsNoRowsDeleted(err error) bool { return hasCode(err, CodeNoRowsDeleted) }
