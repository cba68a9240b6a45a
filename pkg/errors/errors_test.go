package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("create new error", func(t *testing.T) {
		err := New(ValidationError, "TEST_ERROR", "this is a test error")

		assert.Equal(t, ValidationError, err.Type)
		assert.Equal(t, "TEST_ERROR", err.Code)
		assert.Equal(t, "this is a test error", err.Message)
		assert.Equal(t, 422, err.HTTPStatus)
		assert.NotZero(t, err.Timestamp)
		assert.NotEmpty(t, err.File)
		assert.NotZero(t, err.Line)
	})

	t.Run("wrap existing error", func(t *testing.T) {
		originalErr := fmt.Errorf("connection refused")
		wrappedErr := Wrap(originalErr, FetchFailedError, "FETCH_FAILED", "could not fetch source")

		assert.Equal(t, FetchFailedError, wrappedErr.Type)
		assert.Equal(t, "FETCH_FAILED", wrappedErr.Code)
		assert.Equal(t, "could not fetch source", wrappedErr.Message)
		assert.Equal(t, "connection refused", wrappedErr.Details)
		assert.Equal(t, originalErr, wrappedErr.InnerError)
		assert.Equal(t, 500, wrappedErr.HTTPStatus)
	})

	t.Run("error with context", func(t *testing.T) {
		err := New(InternalError, "CONTEXT_ERROR", "error with context").
			WithContext("main_id", "abc").
			WithContext("page_number", 3).
			WithTrace("trace-123")

		assert.Equal(t, "abc", err.Context["main_id"])
		assert.Equal(t, 3, err.Context["page_number"])
		assert.Equal(t, "trace-123", err.TraceID)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name               string
		constructor        func(string) *AppError
		expectedType       ErrorType
		expectedHTTPStatus int
		expectRetriable    bool
	}{
		{"validation", NewValidationError, ValidationError, 422, false},
		{"auth", NewAuthError, AuthError, 401, false},
		{"conflict", NewConflictError, ConflictError, 409, false},
		{"fetch failed", NewFetchFailedError, FetchFailedError, 500, true},
		{"convert failed", NewConvertFailedError, ConvertFailedError, 500, false},
		{"split failed", NewSplitFailedError, SplitFailedError, 500, false},
		{"queue unavailable", NewQueueUnavailableError, QueueUnavailableError, 503, false},
		{"store unavailable", NewStoreUnavailableError, StoreUnavailableError, 503, true},
		{"internal", NewInternalError, InternalError, 500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("test message")
			assert.Equal(t, tt.expectedType, err.Type)
			assert.Equal(t, tt.expectedHTTPStatus, err.HTTPStatus)
			assert.Equal(t, "test message", err.Message)
			assert.Equal(t, tt.expectRetriable, err.Retriable())
		})
	}
}

func TestTimeoutAndNotFound(t *testing.T) {
	t.Run("timeout error", func(t *testing.T) {
		err := NewTimeoutError("convert_page")
		assert.Equal(t, TimeoutError, err.Type)
		assert.Contains(t, err.Message, "convert_page")
		assert.True(t, err.Retriable())
	})

	t.Run("not found error", func(t *testing.T) {
		err := NewNotFoundError("job")
		assert.Equal(t, NotFoundError, err.Type)
		assert.Equal(t, 404, err.HTTPStatus)
		assert.Contains(t, err.Message, "job")
	})
}

func TestSpecificErrors(t *testing.T) {
	t.Run("unsupported file type error", func(t *testing.T) {
		err := NewUnsupportedFileTypeError("xyz")
		assert.Equal(t, ValidationError, err.Type)
		assert.Equal(t, "UNSUPPORTED_FILE_TYPE", err.Code)
		assert.Contains(t, err.Message, "xyz")
	})

	t.Run("file size error", func(t *testing.T) {
		err := NewFileSizeError(200*1024*1024, 50*1024*1024)
		assert.Equal(t, FileSizeError, err.Type)
		assert.Equal(t, 413, err.HTTPStatus)
		assert.Equal(t, "FILE_SIZE_EXCEEDED", err.Code)
		assert.Contains(t, err.Message, "209715200")
		assert.Contains(t, err.Message, "52428800")
	})

	t.Run("rate limit error", func(t *testing.T) {
		err := NewRateLimitError("too many requests")
		assert.Equal(t, RateLimitError, err.Type)
		assert.Equal(t, 429, err.HTTPStatus)
		assert.False(t, err.Retriable())
	})
}

func TestErrorHelpers(t *testing.T) {
	t.Run("is type check", func(t *testing.T) {
		err := NewValidationError("test")
		assert.True(t, IsType(err, ValidationError))
		assert.False(t, IsType(err, ConvertFailedError))
	})

	t.Run("get HTTP status", func(t *testing.T) {
		err := NewValidationError("test")
		assert.Equal(t, 422, GetHTTPStatus(err))

		regularErr := fmt.Errorf("regular error")
		assert.Equal(t, 500, GetHTTPStatus(regularErr))
	})

	t.Run("as app error wraps unknown errors as internal", func(t *testing.T) {
		regularErr := fmt.Errorf("boom")
		wrapped := AsAppError(regularErr)
		assert.Equal(t, InternalError, wrapped.Type)
		assert.Nil(t, AsAppError(nil))
	})
}

func TestErrorResponse(t *testing.T) {
	t.Run("create error response", func(t *testing.T) {
		err := NewValidationError("test error")
		response := NewErrorResponse(err)

		assert.Equal(t, err, response.Error)
	})
}
