package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"development defaults", DefaultConfig(), false},
		{"production defaults", ProductionConfig(), false},
		{"stderr output", &Config{Level: "warn", Format: "json", Output: "stderr"}, false},
		{"file output", &Config{Level: "info", Format: "json", Output: filepath.Join(t.TempDir(), "ledger.log")}, false},
		{"unknown level", &Config{Level: "chatty", Format: "json", Output: "stdout"}, true},
		{"unwritable file", &Config{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "x.log")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	prod, err := NewForEnvironment("production")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))

	dev, err := NewForEnvironment("development")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithWriter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Info("Allocation created", zap.String("allocation_id", "a-1"), zap.String("amount", "605.00"))
	l.Debug("dropped")
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Allocation created", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "a-1", entry["allocation_id"])
	assert.Equal(t, "605.00", entry["amount"])
}
