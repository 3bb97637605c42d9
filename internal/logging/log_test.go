package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel_AppliesToChildren(t *testing.T) {
	// GIVEN: A root logger at info and a named child
	root, err := New("info", "json")
	require.NoError(t, err)
	child := root.Named("api")
	require.False(t, child.Core().Enabled(zapcore.DebugLevel))

	// WHEN: The child changes the level
	require.NoError(t, child.SetLevel("debug"))

	// THEN: The root follows
	assert.True(t, root.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, root.With().Core().Enabled(zapcore.DebugLevel))
}

func TestSetLevel_Unsupported(t *testing.T) {
	log := NewNop()

	assert.Error(t, log.SetLevel("verbose"))
}

func TestNew_UnsupportedEncoding(t *testing.T) {
	_, err := New("info", "xml")

	assert.Error(t, err)
}
