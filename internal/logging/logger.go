// Package logging provides the engine's structured logger: a
// process-global zap.Logger, configured once from the engine's own
// settings, that every component logs through.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DigiBanks99/lopen/internal/settings"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
)

// Init initializes the global logger from cfg.Environment, tagging every
// entry with the module it was invoked for so multi-module runs (e.g.
// `session resume` against an archived module) can be told apart in a
// shared log stream. Safe to call multiple times; only the first call's
// arguments take effect.
func Init(cfg settings.Settings, module string) {
	once.Do(func() {
		var zcfg zap.Config
		if cfg.Environment == "production" {
			zcfg = zap.NewProductionConfig()
			zcfg.EncoderConfig.TimeKey = "ts"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			zcfg = zap.NewDevelopmentConfig()
			zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		built, err := zcfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			built = zap.NewNop()
		}
		if module != "" {
			built = built.With(zap.String("module", module))
		}
		logger = built
		sugar = logger.Sugar()
	})
}

// L returns the global structured logger, falling back to development
// defaults with no module tag if Init was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		Init(settings.Settings{Environment: "development"}, "")
	}
	return logger
}

// S returns the global sugared logger (printf-style).
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init(settings.Settings{Environment: "development"}, "")
	}
	return sugar
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithContext returns a logger with additional structured fields.
func WithContext(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
