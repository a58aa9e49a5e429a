package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *GatewayError
		want string
	}{
		{
			name: "provider and operation",
			err:  New(ErrCodeProviderFailure, "boom").WithProvider("dropbox").WithOperation("upload"),
			want: "[dropbox:upload] PROVIDER_FAILURE: boom",
		},
		{
			name: "provider only",
			err:  New(ErrCodeNotFound, "missing").WithProvider("mega"),
			want: "[mega] NOT_FOUND: missing",
		},
		{
			name: "bare",
			err:  New(ErrCodeValidationFailed, "empty file"),
			want: "VALIDATION_FAILED: empty file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCategories(t *testing.T) {
	assert.Equal(t, CategoryConfiguration, New(ErrCodeMissingCredential, "x").Category)
	assert.Equal(t, CategoryValidation, New(ErrCodeValidationFailed, "x").Category)
	assert.Equal(t, CategoryProvider, New(ErrCodeProviderFailure, "x").Category)
	assert.Equal(t, CategoryProvider, New(ErrCodeUnsupportedProvider, "x").Category)
	assert.Equal(t, CategoryCatalog, New(ErrCodeCatalogFailure, "x").Category)
	assert.Equal(t, CategoryInternal, New(ErrCodeInternalError, "x").Category)
}

func TestUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewProvider("backblaze", "download", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, New(ErrCodeProviderFailure, "anything")))
	assert.False(t, stderrors.Is(err, New(ErrCodeNotFound, "anything")))
}

func TestNewUnsupportedProvider_ListsRegisteredNames(t *testing.T) {
	err := NewUnsupportedProvider("ftp", []string{"onedrive", "dropbox", "mega"})

	require.Contains(t, err.Error(), `provider "ftp" is not supported`)
	// Names are sorted for a stable message.
	assert.Contains(t, err.Error(), "dropbox, mega, onedrive")
}

func TestPredicates(t *testing.T) {
	notFound := NewNotFound("gdrive", "report.pdf")
	validation := NewValidation("file content is empty")
	config := NewMissingCredential("onedrive", "ONEDRIVE_CLIENT_ID")
	providerErr := NewProvider("gcs", "list", fmt.Errorf("503"))

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(validation))

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(notFound))

	assert.True(t, IsConfiguration(config))
	assert.False(t, IsConfiguration(providerErr))

	assert.True(t, IsRetryable(providerErr))
	assert.False(t, IsRetryable(validation))

	// Wrapped errors still match.
	wrapped := fmt.Errorf("handling request: %w", notFound)
	assert.True(t, IsNotFound(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, NewValidation("bad").HTTPStatus())
	assert.Equal(t, 404, NewNotFound("mega", "x").HTTPStatus())
	assert.Equal(t, 422, NewMissingCredential("gcs", "GCS_BUCKET").HTTPStatus())
	assert.Equal(t, 502, NewProvider("dropbox", "upload", nil).HTTPStatus())
	assert.Equal(t, 503, New(ErrCodeServiceUnavailable, "down").HTTPStatus())
	assert.Equal(t, 500, New(ErrCodeInternalError, "oops").HTTPStatus())
}

func TestIsGateway(t *testing.T) {
	assert.True(t, IsGateway(NewProvider("gdrive", "list", fmt.Errorf("503"))))
	assert.True(t, IsGateway(fmt.Errorf("wrap: %w", NewValidation("empty"))))
	assert.False(t, IsGateway(fmt.Errorf("connection reset by peer")))
	assert.False(t, IsGateway(nil))
}

func TestAsGateway(t *testing.T) {
	t.Run("passes through gateway errors", func(t *testing.T) {
		orig := NewValidation("too many providers")
		got := AsGateway(fmt.Errorf("wrap: %w", orig))
		assert.Equal(t, ErrCodeValidationFailed, got.Code)
	})

	t.Run("wraps unknown errors as internal", func(t *testing.T) {
		got := AsGateway(fmt.Errorf("some db error"))
		assert.Equal(t, ErrCodeInternalError, got.Code)
		assert.Equal(t, "some db error", got.Message)
	})
}
