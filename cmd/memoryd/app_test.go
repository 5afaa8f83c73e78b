package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

func TestLogCredentials_KeyNeverLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	creds := []config.Credential{
		{Provider: "openai", Model: "gpt-4o-mini", APIKey: config.Secret("sk-abcdefghijklmnopqrstuvwx")},
		{Provider: "gemini", APIKey: config.Secret("AIzaSy-12345")},
	}

	logCredentials(context.Background(), logger.Logger, creds)

	entries := logger.FilterMessage("extraction credential configured").All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		for _, f := range e.Context {
			if f.Type == zapcore.StringType {
				assert.NotContains(t, f.String, "sk-abcdef")
				assert.NotContains(t, f.String, "AIzaSy")
			}
		}
	}
	logger.AssertField(t, "extraction credential configured", "provider", "openai")
	logger.AssertField(t, "extraction credential configured", "key", "[REDACTED:27]")
	logger.AssertField(t, "extraction credential configured", "key", "[REDACTED:12]")
}
