package errorkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStructural(t *testing.T) {
	structural := []Kind{SchemaMismatch, UnknownField, DeprecatedField, ToolSchemaDrift, StreamFormatDrift}
	for _, k := range structural {
		assert.True(t, IsStructural(k), string(k))
	}
	operational := []Kind{Transient, Auth, Validation, ContentFilter, Unknown}
	for _, k := range operational {
		assert.False(t, IsStructural(k), string(k))
	}
}

func TestTerminalForRequest_ExcludesAuth(t *testing.T) {
	assert.True(t, TerminalForRequest(Validation))
	assert.True(t, TerminalForRequest(ContentFilter))
	// A bad key is provider-specific, so the router may reroute.
	assert.False(t, TerminalForRequest(Auth))
	assert.False(t, TerminalForRequest(Transient))
	assert.False(t, TerminalForRequest(SchemaMismatch))
}

func TestAdapterError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(Transient, "openai", "request failed").WithCause(cause).WithDetails("raw body")

	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, "raw body", err.Details)
	require.ErrorIs(t, err, cause)
}

func TestAsAdapterError(t *testing.T) {
	ae, ok := AsAdapterError(New(Auth, "gemini", "forbidden"))
	require.True(t, ok)
	assert.Equal(t, Auth, ae.Kind)

	_, ok = AsAdapterError(errors.New("plain"))
	assert.False(t, ok)
}
