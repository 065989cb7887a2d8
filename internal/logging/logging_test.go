package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestComponentAddsAttribute(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Component(New(&buf, "info"), "scheduler")
	l.Info("tick")
	assert.Contains(t, buf.String(), "component=scheduler")

	buf.Reset()
	l.Debug("hidden")
	assert.Empty(t, buf.String())
}
