package zaplogging

import (
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level       string // debug, info, warn, error
	Format      string // console or json
	Development bool
}

// New builds a zap logger for the given options. Empty fields fall back to info/console.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, errors.NewValidationError("invalid log level", err).WithContext("level", opts.Level)
		}
		level = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch opts.Format {
	case "", "console":
		cfg.Encoding = "console"
	case "json":
		cfg.Encoding = "json"
	default:
		return nil, errors.NewValidationError("invalid log format", nil).WithContext("format", opts.Format)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = !opts.Development

	// Skip the logging.Logger wrapper so callers are reported correctly
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.NewInternalError("failed to build zap logger", err)
	}
	return logger, nil
}

// NewLogFuncs adapts a zap logger to logging.LogFuncs
func NewLogFuncs(logger *zap.Logger) logging.LogFuncs {
	sugar := logger.Sugar()
	return logging.LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	}
}
