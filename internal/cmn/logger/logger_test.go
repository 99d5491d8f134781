package logger_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replaceFilter struct{ secret string }

func (f replaceFilter) Filter(text string) string {
	return strings.ReplaceAll(text, f.secret, "*******")
}

func TestLoggerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("json"))

	l.Info("hello", "host", "alpha")

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"host":"alpha"`)
}

func TestLoggerDebugLevel(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf))
		l.Debug("hidden")
		assert.Empty(t, buf.String())
	})
	t.Run("Enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithDebug())
		l.Debug("shown")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestLoggerMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogger(
		logger.WithQuiet(),
		logger.WithWriter(&buf),
		logger.WithFilter(replaceFilter{secret: "hunter2"}),
	)

	l.With("password", "hunter2").Info("login with hunter2", "err", errors.New("bad hunter2"))

	out := buf.String()
	require.NotContains(t, out, "hunter2")
	assert.Equal(t, 3, strings.Count(out, "*******"))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf))
	ctx := logger.WithLogger(context.Background(), l)
	ctx = logger.WithValues(ctx, "role", "db")

	logger.Warn(ctx, "careful")

	out := buf.String()
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "role=db")
}
