// Package errors provides structured error types for the ingestion adapter.
// Every error carries the pipeline stage it came from as its category, a
// code, a message and a retryable flag so the driver can decide whether a
// failure aborts the run or is logged and absorbed.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryTransfer ErrorCategory = "TRANSFER"
	ErrCategoryRead     ErrorCategory = "READ"
	ErrCategoryParse    ErrorCategory = "PARSE"
	ErrCategoryBatching ErrorCategory = "BATCHING"
	ErrCategoryAuth     ErrorCategory = "AUTH"
	ErrCategoryPublish  ErrorCategory = "PUBLISH"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeMissingSetting = "MISSING_SETTING"
	CodeInvalidSetting = "INVALID_SETTING"
	CodeUnknownKind    = "UNKNOWN_KIND"

	// Transfer codes
	CodeTransferFailed = "TRANSFER_FAILED"
	CodeSourceLookup   = "SOURCE_LOOKUP_FAILED"

	// Read codes
	CodeReadFailed     = "READ_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Parse codes
	CodeMalformedJSON = "MALFORMED_JSON"
	CodeInvalidValue  = "INVALID_VALUE"
	CodeMissingColumn = "MISSING_COLUMN"
	CodeMalformedCSV  = "MALFORMED_CSV"

	// Batching codes
	CodeInvalidBatchSize = "INVALID_BATCH_SIZE"

	// Auth codes
	CodeTokenRequestFailed = "TOKEN_REQUEST_FAILED"
	CodeMissingToken       = "MISSING_TOKEN"

	// Publish codes
	CodePublishFailed = "PUBLISH_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// IngestError is the structured error type used throughout the adapter.
type IngestError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *IngestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// LogValue renders the error for slog as a group holding the message and
// every detail, so fields such as the request url appear on the log line.
func (e *IngestError) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.Details)+1)
	attrs = append(attrs, slog.String("msg", e.Error()))

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Details[k]))
	}
	return slog.GroupValue(attrs...)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *IngestError) Is(target error) bool {
	var t *IngestError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new IngestError.
func New(category ErrorCategory, code, message string) *IngestError {
	return &IngestError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new IngestError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *IngestError {
	return &IngestError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *IngestError) WithDetails(details map[string]interface{}) *IngestError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an IngestError.
func GetCategory(err error) ErrorCategory {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an IngestError.
func GetCode(err error) string {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsFatalByDefault reports whether errors of the category abort the run
// when no stage policy overrides it. Read, batching, auth and config
// failures are fatal; transfer, parse and publish failures are logged and
// absorbed.
func IsFatalByDefault(category ErrorCategory) bool {
	switch category {
	case ErrCategoryTransfer, ErrCategoryParse, ErrCategoryPublish:
		return false
	default:
		return true
	}
}

// isRetryable marks failures of remote calls that may succeed on a later attempt.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryTransfer && code == CodeTransferFailed:
		return true
	case category == ErrCategoryRead && code == CodeReadFailed:
		return true
	case category == ErrCategoryAuth && code == CodeTokenRequestFailed:
		return true
	case category == ErrCategoryPublish && code == CodePublishFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *IngestError {
	return New(ErrCategoryConfig, code, message)
}

func NewTransferError(code, message string, cause error) *IngestError {
	return Wrap(ErrCategoryTransfer, code, message, cause)
}

func NewReadError(code, message string, cause error) *IngestError {
	return Wrap(ErrCategoryRead, code, message, cause)
}

func NewParseError(code, message string, cause error) *IngestError {
	return Wrap(ErrCategoryParse, code, message, cause)
}

func NewBatchingError(code, message string) *IngestError {
	return New(ErrCategoryBatching, code, message)
}

func NewAuthError(code, message string, cause error) *IngestError {
	return Wrap(ErrCategoryAuth, code, message, cause)
}

func NewPublishError(code, message string, cause error) *IngestError {
	return Wrap(ErrCategoryPublish, code, message, cause)
}

func NewInternalError(message string, cause error) *IngestError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
