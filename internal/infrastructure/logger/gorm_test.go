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
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func sqlOf(sql string) func() (string, int64) {
	return func() (string, int64) { return sql, 1 }
}

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		begin   time.Time
		err     error
		wantMsg string
		wantLvl zapcore.Level
	}{
		{"query at info level", gormlogger.Info, time.Now(), nil, "SQL Query", zapcore.DebugLevel},
		{"error", gormlogger.Warn, time.Now(), errors.New("boom"), "SQL Error", zapcore.ErrorLevel},
		{"duplicate key is a warning", gormlogger.Warn, time.Now(), gorm.ErrDuplicatedKey, "SQL constraint violation", zapcore.WarnLevel},
		{"slow query", gormlogger.Warn, time.Now().Add(-time.Second), nil, "SLOW SQL >= 200ms", zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			l := NewGormLogger(zap.New(core), tt.level)
			ctx := WithOrderID(context.Background(), "order-7")

			l.Trace(ctx, tt.begin, sqlOf("SELECT 1"), tt.err)

			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, tt.wantLvl, entry.Level)
			assert.Equal(t, "order-7", entry.ContextMap()["order_id"])
		})
	}
}

func TestGormLogger_Suppressed(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)

	NewGormLogger(zap.New(core), gormlogger.Warn).
		Trace(context.Background(), time.Now(), sqlOf("SELECT 1"), gormlogger.ErrRecordNotFound)
	NewGormLogger(zap.New(core), gormlogger.Warn).
		Trace(context.Background(), time.Now(), sqlOf("SELECT 1"), nil)
	NewGormLogger(zap.New(core), gormlogger.Silent).
		Trace(context.Background(), time.Now(), sqlOf("SELECT 1"), errors.New("boom"))
	NewGormLogger(zap.New(core), gormlogger.Warn, WithSlowThreshold(0)).
		Trace(context.Background(), time.Now().Add(-time.Hour), sqlOf("SELECT 1"), nil)

	assert.Zero(t, recorded.Len())
}

func TestGormLogger_LogMode(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), gormlogger.Warn)
	switched := l.LogMode(gormlogger.Info).(*GormLogger)
	assert.Equal(t, gormlogger.Info, switched.logLevel)
	assert.Equal(t, gormlogger.Warn, l.logLevel)
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
