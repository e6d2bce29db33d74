// Package log builds the process logger. Services take *zap.Logger from fx
// and name it after themselves; per-operation fields come from ctxlogger.
package log

import (
	"context"
	"strings"

	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Options(
	fx.Provide(NewLogger),
	fx.Invoke(syncOnStop),
)

func syncOnStop(lc fx.Lifecycle, logger *zap.Logger) {
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		_ = logger.Sync()
		return nil
	}})
}

// NewLogger logs JSON to stdout, or colored console output when running in
// development, and installs itself as the zap global so gorm query logs and
// config reloads share its level.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := zapConfig(cfg).Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("version", cfg.AppVersion),
			zap.String("env", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	ctxlogger.SetServiceName(cfg.AppName)
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func zapConfig(cfg config.Config) zap.Config {
	var zc zap.Config
	if isDevelopment(cfg.Environment) {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return true
	}
	return false
}

func parseLevel(raw string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
