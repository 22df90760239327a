package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, conf Config) (Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	conf.Output = "stdout"
	return NewZapLogger(conf, zapcore.AddSync(&buf)), &buf
}

func TestZapLogger_Logfmt(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: "logfmt", Level: LevelInfo})

	logger.WithName("accrual").WithKV("member", 7).Info("liabilities accrued", "created", 3)

	out := buf.String()
	assert.Contains(t, out, `msg="liabilities accrued"`)
	assert.Contains(t, out, "logger=accrual")
	assert.Contains(t, out, "member=7")
	assert.Contains(t, out, "created=3")
}

func TestZapLogger_LevelFilter(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: "json", Level: LevelWarn})

	logger.Info("dropped")
	logger.Debug("dropped too")
	assert.Empty(t, buf.String())

	logger.Warn("kept", "source", 1)
	assert.Contains(t, buf.String(), `"msg":"kept"`)
}

func TestZapLogger_WithKV(t *testing.T) {
	logger, _ := newBufferLogger(t, Config{Format: "json"})

	base := logger.WithKV("a", 1)
	first := base.WithKV("b", 2)
	second := base.WithKV("c", 3)

	assert.Equal(t, []any{"a", 1}, base.GetAllKV())
	assert.Equal(t, []any{"a", 1, "b", 2}, first.GetAllKV())
	assert.Equal(t, []any{"a", 1, "c", 3}, second.GetAllKV())
}

func TestZapLogger_Name(t *testing.T) {
	logger, _ := newBufferLogger(t, Config{})

	assert.Equal(t, "reconcile.processor", logger.WithName("reconcile").WithName("processor").Name())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestContextLogger(t *testing.T) {
	assert.Equal(t, "noop", FromContext(context.Background()).Name())

	logger, _ := newBufferLogger(t, Config{})
	ctx := SetContextLogger(context.Background(), logger.WithName("ctx"))
	assert.Equal(t, "ctx", FromContext(ctx).Name())

	ctx = SetContextLogger(context.Background(), nil)
	require.NotNil(t, FromContext(ctx))
	assert.Equal(t, "noop", FromContext(ctx).Name())
}
