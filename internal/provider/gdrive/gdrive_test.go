package gdrive

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

func TestWrapProviderTagsRawTransportErrors(t *testing.T) {
	err := wrapProvider("list", errors.New("connection reset by peer"))

	var gw *gwerrors.GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, gwerrors.ErrCodeProviderFailure, gw.Code)
	assert.Equal(t, "googledrive", gw.Provider)
	assert.Equal(t, "list", gw.Operation)
	assert.True(t, gwerrors.IsRetryable(err))
}

func TestWrapProviderKeepsGatewayErrors(t *testing.T) {
	notFound := gwerrors.NewNotFound("googledrive", "docs/report.pdf")
	assert.Same(t, notFound, wrapProvider("delete", notFound))
	assert.True(t, gwerrors.IsNotFound(wrapProvider("delete", notFound)))

	// Wrapped gateway errors keep their original code too.
	wrapped := fmt.Errorf("resolving folder: %w", notFound)
	got := wrapProvider("delete", wrapped)
	assert.True(t, gwerrors.IsNotFound(got))
	assert.False(t, gwerrors.IsRetryable(got))
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
	assert.Equal(t, "plain", escapeQuery("plain"))
}
