package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInitJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	l := initTo(&buf, "production", "warn")

	l.Info().Msg("hidden")
	l.Warn().Str("book", "Dune").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"book":"Dune"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	initTo(&buf, "production", "chatty")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
