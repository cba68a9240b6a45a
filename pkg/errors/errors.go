package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType is the orchestration error taxonomy (kinds, not type names).
type ErrorType string

const (
	ValidationError       ErrorType = "validation"
	AuthError             ErrorType = "auth"
	NotFoundError         ErrorType = "not_found"
	ConflictError         ErrorType = "conflict"
	FetchFailedError      ErrorType = "fetch_failed"
	ConvertFailedError    ErrorType = "convert_failed"
	SplitFailedError      ErrorType = "split_failed"
	TimeoutError          ErrorType = "timeout"
	QueueUnavailableError ErrorType = "queue_unavailable"
	StoreUnavailableError ErrorType = "store_unavailable"
	InternalError         ErrorType = "internal"
	FileSizeError         ErrorType = "file_size_exceeded"
	RateLimitError        ErrorType = "rate_limited"
)

// Retriable reports whether the work queue should retry an item that
// failed with this error type (§7: fetch_failed, store_unavailable,
// timeout, and generic internal are retriable; everything else is
// permanent).
func (t ErrorType) Retriable() bool {
	switch t {
	case FetchFailedError, StoreUnavailableError, TimeoutError, InternalError:
		return true
	default:
		return false
	}
}

// AppError represents a structured application error, classified at the
// boundary and recorded verbatim on the owning job.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"http_status"`
	Timestamp  time.Time              `json:"timestamp"`
	TraceID    string                 `json:"trace_id,omitempty"`
	File       string                 `json:"file,omitempty"`
	Line       int                    `json:"line,omitempty"`
	Function   string                 `json:"function,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	InnerError error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.InnerError }

func (e *AppError) Retriable() bool { return e.Type.Retriable() }

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithTrace(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

func New(errType ErrorType, code, message string) *AppError {
	err := &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(errType),
		Timestamp:  time.Now(),
	}
	if pc, file, line, ok := runtime.Caller(1); ok {
		err.File = file
		err.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			err.Function = fn.Name()
		}
	}
	return err
}

func Wrap(err error, errType ErrorType, code, message string) *AppError {
	appErr := New(errType, code, message)
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

func Newf(errType ErrorType, code, format string, args ...interface{}) *AppError {
	return New(errType, code, fmt.Sprintf(format, args...))
}

func Wrapf(err error, errType ErrorType, code, format string, args ...interface{}) *AppError {
	return Wrap(err, errType, code, fmt.Sprintf(format, args...))
}

// Predefined constructors, one per §7 kind.

func NewValidationError(message string) *AppError {
	return New(ValidationError, "VALIDATION_FAILED", message)
}

func NewAuthError(message string) *AppError {
	return New(AuthError, "AUTH_FAILED", message)
}

func NewNotFoundError(resource string) *AppError {
	return New(NotFoundError, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return New(ConflictError, "CONFLICT", message)
}

func NewFetchFailedError(message string) *AppError {
	return New(FetchFailedError, "FETCH_FAILED", message)
}

func NewConvertFailedError(message string) *AppError {
	return New(ConvertFailedError, "CONVERT_FAILED", message)
}

func NewSplitFailedError(message string) *AppError {
	return New(SplitFailedError, "SPLIT_FAILED", message)
}

func NewTimeoutError(operation string) *AppError {
	return New(TimeoutError, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewQueueUnavailableError(message string) *AppError {
	return New(QueueUnavailableError, "QUEUE_UNAVAILABLE", message)
}

func NewStoreUnavailableError(message string) *AppError {
	return New(StoreUnavailableError, "STORE_UNAVAILABLE", message)
}

func NewInternalError(message string) *AppError {
	return New(InternalError, "INTERNAL_ERROR", message)
}

func NewUnsupportedFileTypeError(fileType string) *AppError {
	return New(ValidationError, "UNSUPPORTED_FILE_TYPE", fmt.Sprintf("file type %q is not supported", fileType))
}

func NewFileSizeError(size, maxSize int64) *AppError {
	return New(FileSizeError, "FILE_SIZE_EXCEEDED", fmt.Sprintf("file size %d bytes exceeds maximum of %d bytes", size, maxSize))
}

func NewRateLimitError(message string) *AppError {
	return New(RateLimitError, "RATE_LIMITED", message)
}

// ErrorResponse is the JSON envelope every HTTP error response uses.
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewErrorResponse(err *AppError) *ErrorResponse {
	return &ErrorResponse{Error: err}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusUnprocessableEntity
	case AuthError:
		return http.StatusUnauthorized
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError:
		return http.StatusConflict
	case FetchFailedError, ConvertFailedError, SplitFailedError:
		return http.StatusInternalServerError
	case TimeoutError:
		return http.StatusGatewayTimeout
	case QueueUnavailableError, StoreUnavailableError:
		return http.StatusServiceUnavailable
	case FileSizeError:
		return http.StatusRequestEntityTooLarge
	case RateLimitError:
		return http.StatusTooManyRequests
	case InternalError:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// IsType checks if the error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errType
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// AsAppError unwraps err into an *AppError, classifying unknown errors as
// internal rather than leaking them to the client.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return Wrap(err, InternalError, "INTERNAL_ERROR", "unexpected error")
}

// RecoveryHandler recovers a panic into a structured AppError for logging.
func RecoveryHandler() *AppError {
	r := recover()
	if r == nil {
		return nil
	}
	var err *AppError
	switch v := r.(type) {
	case error:
		err = Wrap(v, InternalError, "PANIC_RECOVERED", "panic recovered")
	case string:
		err = New(InternalError, "PANIC_RECOVERED", v)
	default:
		err = New(InternalError, "PANIC_RECOVERED", fmt.Sprintf("panic recovered: %v", v))
	}
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	err.WithContext("stack_trace", string(buf))
	return err
}
