package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeStoreUnavailable, "store down", baseErr)

	assert.Equal(t, ErrorTypeStoreUnavailable, domainErr.Type)
	assert.Equal(t, "store down", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeDataCorruption,
				Message: "payload unreadable",
				Err:     errors.New("short read"),
			},
			wantMsg: "data_corruption: payload unreadable (short read)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeInvalidQuery,
				Message: "page must be at least 1",
			},
			wantMsg: "invalid_query: page must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeInvalidQuery, "bad page", nil),
			target: ErrInvalidQuery,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrInvalidQuery,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeInvalidQuery, "bad page", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeInvalidQuery, "invalid query", nil)

	err.WithDetail("field", "page").WithDetail("value", 0)

	assert.Equal(t, "page", err.Details["field"])
	assert.Equal(t, 0, err.Details["value"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		yes   []error
		no    []error
	}{
		{
			name:  "invalid query",
			check: IsInvalidQueryError,
			yes:   []error{ErrInvalidPage, ErrInvalidRange, fmt.Errorf("wrapped: %w", ErrPageSizeTooBig)},
			no:    []error{ErrInvalidInput, errors.New("regular"), nil},
		},
		{
			name:  "validation",
			check: IsValidationError,
			yes:   []error{ErrInvalidInput},
			no:    []error{ErrInvalidQuery},
		},
		{
			name:  "unauthorized",
			check: IsUnauthorizedError,
			yes:   []error{ErrUnauthorized},
			no:    []error{ErrForbidden},
		},
		{
			name:  "forbidden",
			check: IsForbiddenError,
			yes:   []error{ErrForbidden},
			no:    []error{ErrUnauthorized},
		},
		{
			name:  "store unavailable",
			check: IsStoreUnavailableError,
			yes:   []error{ErrStoreUnavailable, ErrServiceStopped},
			no:    []error{ErrDataCorruption},
		},
		{
			name:  "data corruption",
			check: IsDataCorruptionError,
			yes:   []error{ErrDataCorruption, fmt.Errorf("row 7: %w", ErrDataCorruption)},
			no:    []error{ErrInternal},
		},
		{
			name:  "timeout",
			check: IsTimeoutError,
			yes:   []error{ErrQueryTimeout},
			no:    []error{ErrInternal},
		},
		{
			name:  "internal",
			check: IsInternalError,
			yes:   []error{ErrInternal},
			no:    []error{ErrStoreUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, err := range tt.yes {
				assert.True(t, tt.check(err), "%v", err)
			}
			for _, err := range tt.no {
				assert.False(t, tt.check(err), "%v", err)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeInvalidQuery, GetErrorType(ErrInvalidPage))
	assert.Equal(t, ErrorTypeDataCorruption, GetErrorType(fmt.Errorf("x: %w", ErrDataCorruption)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("regular")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeInvalidQuery, "invalid query", nil)
	err.WithDetail("page_size", "must be at least 1")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "must be at least 1", details["page_size"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeStoreUnavailable, "acquire failed", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeStoreUnavailable, domainErr.Type)
	assert.Equal(t, "acquire failed", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("scan failed")
	wrapped := WrapInternal("failed to read rows", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
