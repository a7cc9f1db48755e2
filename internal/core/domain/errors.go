package domain

import (
	"errors"
	"fmt"
)

// Code classifies failures. Codes double as the error kind reported in
// batch summaries.
type Code string

const (
	CodeInvalidArgument  Code = "InvalidArgument"
	CodeNotFound         Code = "NotFound"
	CodeContention       Code = "Contention"
	CodeDuplicateAwb     Code = "DuplicateAwb"
	CodeInvalidStrategy  Code = "InvalidStrategy"
	CodeInvalidState     Code = "InvalidState"
	CodeDuplicateRequest Code = "DuplicateRequest"
	CodeInternal         Code = "Internal"
)

// Retryable reports whether a failure with this code may succeed on a fresh
// attempt.
func (c Code) Retryable() bool {
	return c == CodeContention
}

// Error is a coded domain error. Two errors match under errors.Is when their
// codes are equal.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrContention       = &Error{Code: CodeContention, Message: "concurrent stock mutation"}
	ErrDuplicateAwb     = &Error{Code: CodeDuplicateAwb, Message: "awb number already assigned"}
	ErrInvalidStrategy  = &Error{Code: CodeInvalidStrategy, Message: "invalid allocation strategy"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrDuplicateRequest = &Error{Code: CodeDuplicateRequest, Message: "duplicate request"}
)

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
