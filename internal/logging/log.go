package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger. Children made with Named and With share the
// level of their root, so SetLevel on any of them applies to all.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a logger writing to stderr.
// level is one of debug, info, warn, error; encoding is console or json.
func New(level, encoding string) (*Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	switch encoding {
	case "", "console":
		encoding = "console"
	case "json":
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{Logger: zl, level: cfg.Level}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Named returns a child logger; names are joined with dots.
func (log *Logger) Named(name string) *Logger {
	return &Logger{Logger: log.Logger.Named(name), level: log.level}
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: log.Logger.With(fields...), level: log.level}
}

func (log *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	log.level.SetLevel(lvl)
	return nil
}

// AtExit flushes buffered entries. Meant to be deferred by main.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level %q", level)
	}
}
