package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	l, closeFn := New(Config{Level: "warn"})
	defer closeFn()
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	l, _ = New(Config{Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allocator.log")
	l, closeFn := New(Config{Level: "info", File: path})
	l.Info().Str("component", "test").Msg("hello")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}
