package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		in        config.LoggingConfig
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"defaults", config.LoggingConfig{}, zapcore.InfoLevel, false},
		{"trace", config.LoggingConfig{Level: "trace", Format: "console"}, TraceLevel, false},
		{"debug", config.LoggingConfig{Level: "debug", Sampling: true}, zapcore.DebugLevel, false},
		{"bogus", config.LoggingConfig{Level: "loud"}, zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromConfig(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, cfg.Level)
			assert.Equal(t, tt.in.Sampling, cfg.Sampling.Enabled)
			require.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no outputs", func(c *Config) { c.Output.Stdout = false }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithMemoryID(ctx, "mem-1")
	ctx = WithPerformerID(ctx, "perf-1")
	ctx = WithPerformerID(ctx, "")

	fields := ContextFields(ctx)
	keys := make(map[string]string, len(fields))
	for _, f := range fields {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "req-1", keys["request.id"])
	assert.Equal(t, "mem-1", keys["memory.id"])
	assert.Equal(t, "perf-1", keys["performer.id"])
}

func TestTestLogger_ContextFieldsAttached(t *testing.T) {
	logger := NewTestLogger()
	ctx := WithMemoryID(context.Background(), "mem-42")

	logger.Info(ctx, "memory processed", zap.Int("destinations", 3))
	logger.Trace(ctx, "prompt built")

	logger.AssertLogged(t, zapcore.InfoLevel, "memory processed")
	logger.AssertLogged(t, TraceLevel, "prompt built")
	logger.AssertField(t, "memory processed", "memory.id", "mem-42")
	logger.AssertNotLogged(t, zapcore.ErrorLevel, "memory processed")

	logger.Reset()
	assert.Empty(t, logger.All())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	logger := NewTestLogger()
	ctx := WithLogger(context.Background(), logger.Logger)
	FromContext(ctx).Warn(ctx, "slow provider")
	logger.AssertLogged(t, zapcore.WarnLevel, "slow provider")
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	z := zap.New(core)

	z.Info("configured",
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwx"),
		zap.String("header", "Bearer abc.def"),
		zap.String("provider", "openai"),
		Secret("credential_len", config.Secret("12345")),
	)
	require.NoError(t, z.Sync())

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"provider":"openai"`)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_CallSiteAndWithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	z := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel))

	z.Info("call", zap.String("password", "hunter2"))
	z.With(zap.String("password", "hunter2")).Info("with")
	z.Warn("provider failed", zap.Error(errors.New("401 from upstream: Bearer abc.def rejected")))
	require.NoError(t, z.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
	assert.Equal(t, 2, strings.Count(out, `"password":"[REDACTED]"`))
	assert.Contains(t, out, `"error":"[REDACTED:pattern]"`)
}

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewCore(newEncoder("json"), zapcore.AddSync(&buf), zapcore.DebugLevel)
	core := newSampledCore(base, SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0})
	z := zap.New(core)

	for i := 0; i < 5; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	out := buf.String()
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte(`"msg":"repeated"`)))
	assert.Equal(t, 5, bytes.Count([]byte(out), []byte(`"msg":"failure"`)))
}

func TestLevelEncoder_Trace(t *testing.T) {
	var buf bytes.Buffer
	z := zap.New(zapcore.NewCore(newEncoder("json"), zapcore.AddSync(&buf), TraceLevel))
	z.Log(TraceLevel, "deep")
	assert.Contains(t, buf.String(), `"level":"trace"`)
}
