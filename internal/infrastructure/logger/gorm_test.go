package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

var _ gormlogger.Interface = (*GormLogger)(nil)

func TestGormLogger_LogMode(t *testing.T) {
	gl := NewGormLogger(zap.NewNop(), gormlogger.Info, WithSlowThreshold(time.Second), WithSQL(false))
	next, ok := gl.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Info, gl.logLevel)
	assert.Equal(t, gormlogger.Warn, next.logLevel)
	assert.Equal(t, time.Second, next.slowThreshold)
	assert.False(t, next.logSQL)
}

func TestGormLogger_Trace(t *testing.T) {
	query := func() (string, int64) { return "UPDATE invoices SET status = 'paid'", 1 }

	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		opts    []GormLoggerOption
		begin   time.Time
		err     error
		wantMsg string
		wantLvl zapcore.Level
	}{
		{"error", gormlogger.Error, nil, time.Now(), errors.New("deadlock"), "SQL error", zapcore.ErrorLevel},
		{"record not found ignored", gormlogger.Error, nil, time.Now(), gormlogger.ErrRecordNotFound, "", 0},
		{"record not found logged", gormlogger.Error, []GormLoggerOption{WithIgnoreRecordNotFoundError(false)}, time.Now(), gormlogger.ErrRecordNotFound, "SQL error", zapcore.ErrorLevel},
		{"slow", gormlogger.Warn, []GormLoggerOption{WithSlowThreshold(time.Millisecond)}, time.Now().Add(-time.Second), nil, "Slow SQL", zapcore.WarnLevel},
		{"normal", gormlogger.Info, nil, time.Now(), nil, "SQL", zapcore.DebugLevel},
		{"silent", gormlogger.Silent, nil, time.Now(), errors.New("x"), "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			gl := NewGormLogger(zap.New(core), tt.level, tt.opts...)
			gl.Trace(context.Background(), tt.begin, query, tt.err)
			if tt.wantMsg == "" {
				assert.Empty(t, recorded.All())
				return
			}
			require.Len(t, recorded.All(), 1)
			assert.Equal(t, tt.wantMsg, recorded.All()[0].Message)
			assert.Equal(t, tt.wantLvl, recorded.All()[0].Level)
		})
	}
}

func TestGormLogger_TraceContextFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, WithSQL(false))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, TeamIDKey, "team-1")
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)

	require.Len(t, recorded.All(), 1)
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "team-1", fields["team_id"])
	assert.NotContains(t, fields, "sql")
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("other"))
}
