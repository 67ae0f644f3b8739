package mqttv3

import (
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
)

// LogLevel orders log severities. A logger emits entries at or above its level.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone // disables output
)

var logLevelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

func (l LogLevel) String() string {
	if l < LogLevelDebug || l > LogLevelNone {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}

// LogFields are structured key/value pairs attached to a log entry.
type LogFields map[string]any

// Field names used by the client.
const (
	LogFieldClientID   = "client_id"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReturnCode = "return_code"
	LogFieldError      = "error"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldDelay      = "delay"
	LogFieldAttempt    = "attempt"
)

// Logger is the structured logging interface the client writes to.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything.
type NoOpLogger struct {
	level LogLevel
}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{level: LogLevelNone} }

func (n *NoOpLogger) Debug(string, LogFields)     {}
func (n *NoOpLogger) Info(string, LogFields)      {}
func (n *NoOpLogger) Warn(string, LogFields)      {}
func (n *NoOpLogger) Error(string, LogFields)     {}
func (n *NoOpLogger) WithFields(LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel             { return n.level }
func (n *NoOpLogger) SetLevel(level LogLevel)     { n.level = level }

// StdLogger writes "[LEVEL] msg k=v ..." lines through the standard log
// package. Fields are printed in key order.
type StdLogger struct {
	out    *log.Logger
	level  LogLevel
	fields LogFields
}

// NewStdLogger logs to w, or to stderr when w is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{out: log.New(w, "", log.LstdFlags), level: level}
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.write(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.write(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.write(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.write(LogLevelError, msg, fields) }

func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{out: s.out, level: s.level, fields: mergeFields(s.fields, fields)}
}

func (s *StdLogger) Level() LogLevel         { return s.level }
func (s *StdLogger) SetLevel(level LogLevel) { s.level = level }

func (s *StdLogger) write(level LogLevel, msg string, fields LogFields) {
	if level < s.level {
		return
	}
	s.out.Print("[" + level.String() + "] " + renderEntry(msg, mergeFields(s.fields, fields)))
}

func mergeFields(base, extra LogFields) LogFields {
	if len(extra) == 0 {
		return base
	}
	merged := make(LogFields, len(base)+len(extra))
	maps.Copy(merged, base)
	maps.Copy(merged, extra)
	return merged
}

// renderEntry appends fields to msg as sorted key=value pairs.
func renderEntry(msg string, fields LogFields) string {
	if len(fields) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// sinkLogger passes every entry to the wrapped logger and then, regardless of
// that logger's level, renders it as text for a Handler's OnLog.
type sinkLogger struct {
	Logger
	sink   func(LogLevel, string)
	fields LogFields
}

func newSinkLogger(base Logger, sink func(LogLevel, string)) Logger {
	if sink == nil {
		return base
	}
	return &sinkLogger{Logger: base, sink: sink}
}

func (l *sinkLogger) Debug(msg string, fields LogFields) {
	l.Logger.Debug(msg, fields)
	l.forward(LogLevelDebug, msg, fields)
}

func (l *sinkLogger) Info(msg string, fields LogFields) {
	l.Logger.Info(msg, fields)
	l.forward(LogLevelInfo, msg, fields)
}

func (l *sinkLogger) Warn(msg string, fields LogFields) {
	l.Logger.Warn(msg, fields)
	l.forward(LogLevelWarn, msg, fields)
}

func (l *sinkLogger) Error(msg string, fields LogFields) {
	l.Logger.Error(msg, fields)
	l.forward(LogLevelError, msg, fields)
}

func (l *sinkLogger) WithFields(fields LogFields) Logger {
	return &sinkLogger{
		Logger: l.Logger.WithFields(fields),
		sink:   l.sink,
		fields: mergeFields(l.fields, fields),
	}
}

func (l *sinkLogger) forward(level LogLevel, msg string, fields LogFields) {
	l.sink(level, renderEntry(msg, mergeFields(l.fields, fields)))
}
