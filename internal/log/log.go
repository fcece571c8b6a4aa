// Package log provides the module-scoped structured logger used across the
// node, mirroring the teacher's log.NewModuleLogger(log.<Module>) convention.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), zap.NewAtomicLevelAt(zapcore.InfoLevel))
		base = zap.New(core)
	})
	return base
}

// Logger is a module-scoped, key-value structured logger.
type Logger struct {
	s *zap.SugaredLogger
}

// New returns the logger for the given module name, e.g. "tangle", "gossip".
func New(module string) *Logger {
	return &Logger{s: baseLogger().Sugar().With("module", module)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// With returns a child logger carrying the given additional key-value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{s: l.s.With(kv...)}
}
