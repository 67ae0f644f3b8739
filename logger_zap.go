package mqttv3

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewZapLogger wraps logger. Messages below level are dropped before they
// reach zap.
func NewZapLogger(logger *zap.Logger, level LogLevel) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{
		logger: logger,
		level:  zap.NewAtomicLevelAt(zapLevel(level)),
	}
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Debug logs a debug message.
func (z *ZapLogger) Debug(msg string, fields LogFields) {
	if z.level.Enabled(zapcore.DebugLevel) {
		z.logger.Debug(msg, zapFields(fields)...)
	}
}

// Info logs an info message.
func (z *ZapLogger) Info(msg string, fields LogFields) {
	if z.level.Enabled(zapcore.InfoLevel) {
		z.logger.Info(msg, zapFields(fields)...)
	}
}

// Warn logs a warning message.
func (z *ZapLogger) Warn(msg string, fields LogFields) {
	if z.level.Enabled(zapcore.WarnLevel) {
		z.logger.Warn(msg, zapFields(fields)...)
	}
}

// Error logs an error message.
func (z *ZapLogger) Error(msg string, fields LogFields) {
	if z.level.Enabled(zapcore.ErrorLevel) {
		z.logger.Error(msg, zapFields(fields)...)
	}
}

// WithFields returns a logger that adds fields to every entry.
// The level is shared with the parent.
func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{
		logger: z.logger.With(zapFields(fields)...),
		level:  z.level,
	}
}

// Level returns the current log level.
func (z *ZapLogger) Level() LogLevel {
	switch z.level.Level() {
	case zapcore.DebugLevel:
		return LogLevelDebug
	case zapcore.InfoLevel:
		return LogLevelInfo
	case zapcore.WarnLevel:
		return LogLevelWarn
	case zapcore.ErrorLevel:
		return LogLevelError
	default:
		return LogLevelNone
	}
}

// SetLevel sets the log level.
func (z *ZapLogger) SetLevel(level LogLevel) {
	z.level.SetLevel(zapLevel(level))
}
