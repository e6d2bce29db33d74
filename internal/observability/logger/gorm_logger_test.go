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

func TestGormLoggerConfigFor(t *testing.T) {
	assert.Equal(t, gormlogger.Info, GormLoggerConfigFor("debug").Level)
	assert.Equal(t, gormlogger.Warn, GormLoggerConfigFor("info").Level)
	assert.Equal(t, gormlogger.Error, GormLoggerConfigFor("ERROR").Level)
	assert.True(t, GormLoggerConfigFor("info").IgnoreRecordNotFound)
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("select * from visits"))
	assert.Equal(t, "UPDATE", operationFromSQL(`UPDATE "rating_slips" SET "status"='closed'`))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Second, IgnoreRecordNotFound: true})
	ctx := context.Background()
	fc := func() (string, int64) { return `SELECT * FROM "visits" WHERE id = 1 FOR UPDATE`, 1 }

	l.Trace(ctx, time.Now(), fc, gormlogger.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), fc, nil)
	assert.Equal(t, 0, logs.Len())

	l.Trace(ctx, time.Now(), fc, errors.New("boom"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, true, entry.ContextMap()["row_lock"])
	assert.Equal(t, "SELECT", entry.ContextMap()["operation"])

	l.Trace(ctx, time.Now().Add(-2*time.Second), fc, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestLogModeDoesNotMutateReceiver(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())
	quiet := l.LogMode(gormlogger.Silent)

	assert.Equal(t, gormlogger.Warn, l.cfg.Level)
	assert.Equal(t, gormlogger.Silent, quiet.(*GormLogger).cfg.Level)
}
