// Package vczerrors provides structured error handling for vcz with rich
// context, stack traces, and error categorization. It enables consistent
// error handling patterns across the conversion pipeline.
//
// # Overview
//
// The vczerrors package extends Go's standard error handling with:
//   - Error categorization through ErrorType
//   - Structured context with key-value details
//   - Automatic stack trace capture
//   - Error wrapping with cause preservation
//
// # Basic Usage
//
//	// Create a new error
//	err := vczerrors.New(vczerrors.ErrorTypePlanning, "invalid partition count")
//
//	// Add context
//	err = err.WithDetail("num_partitions", n)
//
//	// Wrap existing errors
//	if err := os.ReadFile(path); err != nil {
//	    return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to read metadata").
//	        WithDetail("path", path)
//	}
//
// # Error Types
//
// Every failure mode of the pipeline maps onto one ErrorType, so callers
// can branch on the category rather than on message text. Errors raised
// against a specific partition or field always carry that identity in
// their details.
package vczerrors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
)

// ErrorType represents the category of error, used for error handling
// strategies and exit-code mapping at the command layer.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypePlanning represents invalid partitioning requests
	ErrorTypePlanning ErrorType = "planning"
	// ErrorTypeInvalidIndex represents missing or corrupt companion indexes
	ErrorTypeInvalidIndex ErrorType = "invalid_index"
	// ErrorTypeInitialization represents destination state conflicts
	ErrorTypeInitialization ErrorType = "initialization"
	// ErrorTypeAlreadyInitialized represents an init attempt over an existing plan
	ErrorTypeAlreadyInitialized ErrorType = "already_initialized"
	// ErrorTypeIncompletePartition represents finalise attempted before all partitions completed
	ErrorTypeIncompletePartition ErrorType = "incomplete_partition"
	// ErrorTypeSchemaAgreement represents cross-partition field schema disagreement
	ErrorTypeSchemaAgreement ErrorType = "schema_agreement"
	// ErrorTypeSchemaMismatch represents encode schemas referencing unknown fields
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeResourceBudget represents unsatisfiable memory budgets
	ErrorTypeResourceBudget ErrorType = "resource_budget"
	// ErrorTypeData represents malformed input records or values
	ErrorTypeData ErrorType = "data"
	// ErrorTypeIO represents filesystem and I/O failures
	ErrorTypeIO ErrorType = "io"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: Categorizes the error for handling strategies
//   - Message: Human-readable error description
//   - Cause: The underlying error that caused this error
//   - Details: Key-value pairs providing additional context
//   - Stack: Call stack at the point of error creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling compatibility with errors.Is
// and errors.As for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. This method can be
// chained for adding multiple details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithPartition records the offending partition index.
func (e *Error) WithPartition(index int) *Error {
	return e.WithDetail("partition", index)
}

// WithField records the offending field name.
func (e *Error) WithField(name string) *Error {
	return e.WithDetail("field", name)
}

// New creates a new error with the given type and message, automatically
// capturing the call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. If the error is already a structured Error,
// its stack trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// NewIncompletePartition builds an incomplete-partition error listing the
// missing partition indices. The indices are sorted and stored in the
// error details under "missing".
func NewIncompletePartition(missing []int) *Error {
	sorted := append([]int(nil), missing...)
	sort.Ints(sorted)
	return &Error{
		Type:    ErrorTypeIncompletePartition,
		Message: fmt.Sprintf("partitions not yet completed: %v", sorted),
		Details: map[string]interface{}{"missing": sorted},
		Stack:   captureStack(2),
	}
}

// MissingPartitions extracts the missing partition indices from an
// incomplete-partition error. Returns nil if err is not one.
func MissingPartitions(err error) []int {
	var e *Error
	if !errors.As(err, &e) || e.Type != ErrorTypeIncompletePartition {
		return nil
	}
	missing, _ := e.Details["missing"].([]int)
	return missing
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
