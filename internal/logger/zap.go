package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// defaultZapLevel defines the fallback log level when an unknown level string is provided.
const defaultZapLevel = zapcore.DebugLevel

// toZapLevel converts a textual level to zapcore.Level using known level constants.
func toZapLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultZapLevel
	}
}

// newConsoleCore builds a zapcore.Core with a console encoder targeting stdout.
func newConsoleCore(level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(cfg)
	ws := zapcore.Lock(os.Stdout) // thread-safe writer
	return zapcore.NewCore(encoder, zapcore.AddSync(ws), level)
}

// newZapLogger constructs a sugared zap logger with the provided level string.
func newZapLogger(levelStr string) *Logger {
	level := zap.NewAtomicLevelAt(toZapLevel(levelStr))
	return &Logger{
		SugaredLogger: zap.New(newConsoleCore(level)).Sugar(),
		level:         level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		level:         zap.NewAtomicLevel(),
	}
}

// SetLevel changes the minimum enabled level of l and every logger derived from it.
func (l *Logger) SetLevel(levelStr string) {
	l.level.SetLevel(toZapLevel(levelStr))
}

// Level reports the current minimum enabled level.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// StdLog adapts l for APIs that take a *log.Logger, such as http.Server and
// httputil.ReverseProxy. Lines are written at warn level.
func (l *Logger) StdLog() *log.Logger {
	std, err := zap.NewStdLogAt(l.Desugar(), zapcore.WarnLevel)
	if err != nil {
		return zap.NewStdLog(l.Desugar())
	}
	return std
}
