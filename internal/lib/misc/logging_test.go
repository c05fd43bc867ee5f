package misc

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinimalHandler(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := slog.New(NewMinimalHandler(&buf, MinimalHandlerOptions{SlogOpts: slog.HandlerOptions{Level: level}}))

	Infof(logger, "staked %d tokens", 5)
	assert.Equal(t, "staked 5 tokens\n", buf.String())

	buf.Reset()
	Debugf(logger, "hidden")
	assert.Empty(t, buf.String())

	level.Set(slog.LevelDebug)
	Debugf(logger, "shown")
	assert.Equal(t, "shown\n", buf.String())

	buf.Reset()
	logger.With("account", "alice").WithGroup("req").Warn("slow", "ms", 12)
	assert.Equal(t, "WARN slow {\"account\":\"alice\",\"req.ms\":\"12\"}\n", buf.String())
}
