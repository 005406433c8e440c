package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.AppConfig
		logFunc  func(log *slog.Logger)
		contains []string
		absent   []string
	}{
		{
			name: "Should emit JSON with identity attributes",
			cfg: config.AppConfig{
				Name: "tollgate", Version: "1.2.3",
				Environment: "production", LogLevel: "info", LogFormat: "json",
			},
			logFunc:  func(log *slog.Logger) { log.Info("hello") },
			contains: []string{`"sdk":"tollgate"`, `"version":"1.2.3"`, `"env":"production"`, `"msg":"hello"`},
		},
		{
			name: "Should emit text format when configured",
			cfg: config.AppConfig{
				Name: "tollgate", Version: "dev",
				Environment: "development", LogLevel: "debug", LogFormat: "text",
			},
			logFunc:  func(log *slog.Logger) { log.Debug("scan started") },
			contains: []string{"msg=", "scan started"},
		},
		{
			name: "Should suppress records below the configured level",
			cfg: config.AppConfig{
				Name: "tollgate", Version: "dev",
				Environment: "development", LogLevel: "warn", LogFormat: "json",
			},
			logFunc: func(log *slog.Logger) {
				log.Info("too quiet")
				log.Warn("loud enough")
			},
			contains: []string{"loud enough"},
			absent:   []string{"too quiet"},
		},
		{
			name: "Should default to INFO on unparseable level",
			cfg: config.AppConfig{
				Name: "tollgate", Version: "dev",
				Environment: "development", LogLevel: "verbose", LogFormat: "json",
			},
			logFunc: func(log *slog.Logger) {
				log.Debug("hidden")
				log.Info("visible")
			},
			contains: []string{"visible"},
			absent:   []string{"hidden"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(&tt.cfg, &buf)

			tt.logFunc(log)

			out := buf.String()
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.absent {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestNewWithWriter_NilConfigPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewWithWriter(nil, &bytes.Buffer{})
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.AppConfig{Name: "tollgate", Environment: "development", LogLevel: "info", LogFormat: "json"}

	log := Component(NewWithWriter(&cfg, &buf), "audience")
	log.Info("first match")

	assert.Contains(t, buf.String(), `"component":"audience"`)
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	log := slog.New(handler)

	ctx := WithContext(context.Background(), log)
	got := FromContext(ctx)

	require.NotNil(t, got)
	got.Info("through context")
	assert.Contains(t, buf.String(), "through context")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
