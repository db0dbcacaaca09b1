// Package logger is the structured logger shared by every component. Log
// records are key-value pairs on top of zap, subsystems get named loggers.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// Logger is a logger interface.
type Logger interface {
	// keysAndValues are treated as key-value pairs (e.g., "key1", value1, "key2", value2).
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	// With returns a new logger with the given key-value pair.
	With(key string, value interface{}) Logger
	// NewSystem returns a new logger with the given name.
	NewSystem(name string) Logger
}

type Config struct {
	Level string
	// Dir enables the daily log file <Dir>/log_YYYY-MM-DD.txt
	Dir string
	// Stderr keeps writing to stderr next to the file
	Stderr bool
}

// Setup configures the process wide log output. Without a call loggers write
// to stderr at info level.
func Setup(cfg Config) error {
	level, err := golog.LevelFromString(cfg.Level)
	if err != nil {
		level = golog.LevelInfo
	}

	lc := golog.Config{
		Format: golog.PlaintextOutput,
		Level:  level,
		Stderr: cfg.Stderr || cfg.Dir == "",
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("error creating log directory: %w", err)
		}
		lc.File = DailyFile(cfg.Dir, time.Now())
	}

	golog.SetupLogging(lc)
	return nil
}

// DailyFile names the log file of the given day
func DailyFile(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("log_%s.txt", now.Format("2006-01-02")))
}

func NewLogger(name string) Logger {
	return &zapLogger{
		lg:                  golog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
		commonKeysAndValues: []interface{}{},
	}
}

// NewNop discards everything
func NewNop() Logger {
	return &zapLogger{lg: zap.NewNop().Sugar(), nop: true}
}

// NewZap wraps an existing zap logger, tests use it with zaptest/observer
func NewZap(lg *zap.Logger) Logger {
	return &zapLogger{lg: lg.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

type zapLogger struct {
	lg                  *zap.SugaredLogger
	commonKeysAndValues []interface{}
	nop                 bool
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.lg.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.lg.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.lg.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.lg.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) Fatal(msg string, keysAndValues ...interface{}) {
	l.lg.Fatalw(msg, keysAndValues...)
}

func (l *zapLogger) With(key string, value interface{}) Logger {
	kv := make([]interface{}, 0, len(l.commonKeysAndValues)+2)
	kv = append(kv, l.commonKeysAndValues...)
	return &zapLogger{
		lg:                  l.lg.With(key, value),
		commonKeysAndValues: append(kv, key, value),
		nop:                 l.nop,
	}
}

func (l *zapLogger) NewSystem(name string) Logger {
	if l.nop {
		return l
	}
	return &zapLogger{
		lg:                  golog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().With(l.commonKeysAndValues...),
		commonKeysAndValues: append([]interface{}{}, l.commonKeysAndValues...),
	}
}

type loggerContextKey struct{}

// SetContextLogger attaches the provided logger to the context.
func SetContextLogger(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// FromContext retrieves the logger stored in the context, or a nop logger
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return l
	}
	return NewNop()
}
