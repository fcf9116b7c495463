// Package statlineerrors provides structured error handling for statline with
// error categorization, table and stage context, and stack traces.
//
// # Overview
//
// Every failure that crosses a package boundary is an *Error carrying:
//   - a Type used by callers to pick a containment policy
//   - the table the failure belongs to, when it is table-scoped
//   - the pipeline stage the failure was raised in, when known
//   - the wrapped cause, reachable through errors.Is and errors.As
//
// # Basic Usage
//
//	if len(matches) > 1 {
//	    return statlineerrors.New(statlineerrors.ErrorTypeAmbiguousMetadata, "more than one catalog entry").
//	        WithDetail("dataset_id", id).
//	        WithDetail("matches", len(matches))
//	}
//
//	if err := fetcher.Fetch(ctx, ...); err != nil {
//	    return statlineerrors.Wrap(err, statlineerrors.ErrorTypeFetchFailed, "paginate table").
//	        WithTable(table.Name)
//	}
//
// # Containment
//
// FetchFailed and ConversionFailed are table-scoped: the coordinator drops the
// table unless it is the Main table. UnsupportedCombination, NotFound,
// AmbiguousMetadata and CatalogRegistrationFailed are dataset-scoped.
package statlineerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents caller input errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents a dataset id absent from the source catalog
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConnection represents transport errors talking to an upstream service
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeData represents malformed upstream payloads
	ErrorTypeData ErrorType = "data"
	// ErrorTypeFile represents local file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeUnsupportedCombination represents contradictory run options
	ErrorTypeUnsupportedCombination ErrorType = "unsupported_combination"
	// ErrorTypeAmbiguousMetadata represents more than one metadata record for an id
	ErrorTypeAmbiguousMetadata ErrorType = "ambiguous_metadata"
	// ErrorTypeFetchFailed represents a failure while paginating one table
	ErrorTypeFetchFailed ErrorType = "fetch_failed"
	// ErrorTypeConversionFailed represents a schema coercion or write failure for one table
	ErrorTypeConversionFailed ErrorType = "conversion_failed"
	// ErrorTypePublishPartial represents a published dataset with a reduced table set
	ErrorTypePublishPartial ErrorType = "publish_partial"
	// ErrorTypeUploadFailed represents a blob store write failure
	ErrorTypeUploadFailed ErrorType = "upload_failed"
	// ErrorTypeCatalogRegistrationFailed represents a catalog rejecting dataset or table registration
	ErrorTypeCatalogRegistrationFailed ErrorType = "catalog_registration_failed"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: categorizes the error for containment decisions
//   - Message: human-readable description
//   - Cause: the underlying error
//   - Table: the source table the failure belongs to, empty for dataset-level errors
//   - Stage: the pipeline stage that raised the error, empty when raised below the coordinator
//   - Details: key-value pairs for logs
//   - Stack: call stack at creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Table   string
	Stage   string
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Type)
	if e.Table != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Table)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. It can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithTable scopes the error to a source table.
func (e *Error) WithTable(table string) *Error {
	e.Table = table
	return e
}

// WithStage records the pipeline stage the error surfaced in.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// New creates a new error with the given type and message, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error, preserving it as the cause. If err is already
// an *Error its stack trace and table are kept. Returns nil for a nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Table:   existingErr.Table,
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

// IsRetryable reports whether re-running the whole dataset may succeed.
// Transport and pagination failures qualify; caller and data errors do not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeFetchFailed, ErrorTypeUploadFailed, ErrorTypeCatalogRegistrationFailed:
		return true
	default:
		return false
	}
}

// IsType reports whether any error in err's chain is an *Error of errType.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TableOf returns the first table recorded in err's chain.
func TableOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Table != "" {
			return e.Table
		}
		err = e.Cause
	}
	return ""
}

// StageOf returns the first stage recorded in err's chain.
func StageOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Stage != "" {
			return e.Stage
		}
		err = e.Cause
	}
	return ""
}

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
