package mqttv3

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	_ Logger = (*NoOpLogger)(nil)
	_ Logger = (*StdLogger)(nil)
	_ Logger = (*ZapLogger)(nil)
	_ Logger = (*sinkLogger)(nil)
)

func TestLogLevelString(t *testing.T) {
	want := map[LogLevel]string{
		LogLevelDebug: "DEBUG",
		LogLevelInfo:  "INFO",
		LogLevelWarn:  "WARN",
		LogLevelError: "ERROR",
		LogLevelNone:  "NONE",
		LogLevel(-1):  "UNKNOWN",
		LogLevel(9):   "UNKNOWN",
	}
	for level, name := range want {
		assert.Equal(t, name, level.String())
	}
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	l.Error("ignored", LogFields{"k": 1})

	assert.Same(t, l, l.WithFields(LogFields{"k": 1}))
	assert.Equal(t, LogLevelNone, l.Level())
	l.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, l.Level())
}

func logLines(buf *bytes.Buffer) []string {
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestStdLoggerLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LogLevelDebug, []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"}},
		{LogLevelInfo, []string{"[INFO] i", "[WARN] w", "[ERROR] e"}},
		{LogLevelWarn, []string{"[WARN] w", "[ERROR] e"}},
		{LogLevelError, []string{"[ERROR] e"}},
		{LogLevelNone, nil},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			l := NewStdLogger(&buf, tt.level)
			l.Debug("d", nil)
			l.Info("i", nil)
			l.Warn("w", nil)
			l.Error("e", nil)

			lines := logLines(&buf)
			require.Len(t, lines, len(tt.want))
			for i, line := range lines {
				assert.True(t, strings.HasSuffix(line, tt.want[i]), "line %q", line)
			}
		})
	}
}

func TestStdLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewStdLogger(&buf, LogLevelDebug)
	child := parent.WithFields(LogFields{LogFieldClientID: "c1", LogFieldTopic: "base"})

	child.Info("publish", LogFields{LogFieldTopic: "a/b", LogFieldPacketID: 7, LogFieldQoS: QoS1})
	parent.Info("plain", nil)
	child.Info("connack", LogFields{LogFieldReturnCode: ConnectAccepted})

	lines := logLines(&buf)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[INFO] publish client_id=c1 packet_id=7 qos=QoS1 topic=a/b")
	assert.True(t, strings.HasSuffix(lines[1], "[INFO] plain"))
	assert.Contains(t, lines[2], "return_code=connection accepted")
}

func TestStdLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LogLevelError)
	l.Info("dropped", nil)

	l.SetLevel(LogLevelInfo)
	assert.Equal(t, LogLevelInfo, l.Level())
	l.Info("kept", nil)

	assert.Equal(t, 1, len(logLines(&buf)))
	assert.NotNil(t, NewStdLogger(nil, LogLevelInfo).out)
}

func TestMergeFieldsDoesNotMutate(t *testing.T) {
	base := LogFields{"a": 1}
	merged := mergeFields(base, LogFields{"b": 2})

	assert.Equal(t, LogFields{"a": 1, "b": 2}, merged)
	assert.Equal(t, LogFields{"a": 1}, base)
}

func TestSinkLogger(t *testing.T) {
	type entry struct {
		level LogLevel
		text  string
	}

	var got []entry
	var buf bytes.Buffer
	base := NewStdLogger(&buf, LogLevelWarn)
	l := newSinkLogger(base, func(level LogLevel, text string) {
		got = append(got, entry{level, text})
	}).WithFields(LogFields{LogFieldClientID: "c1"})

	l.Debug("d", nil)
	l.Info("i", LogFields{"k": "v"})
	l.Warn("w", nil)
	l.Error("e", nil)

	// the sink sees every level; the wrapped logger keeps its own filter
	assert.Equal(t, []entry{
		{LogLevelDebug, "d client_id=c1"},
		{LogLevelInfo, "i client_id=c1 k=v"},
		{LogLevelWarn, "w client_id=c1"},
		{LogLevelError, "e client_id=c1"},
	}, got)
	assert.Len(t, logLines(&buf), 2)

	assert.Same(t, base, newSinkLogger(base, nil))
}

func TestZapLogger(t *testing.T) {
	t.Run("fields", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		l := NewZapLogger(zap.New(core), LogLevelDebug).WithFields(LogFields{LogFieldClientID: "c1"})

		l.Warn("connection lost", LogFields{LogFieldError: io.EOF, LogFieldAttempt: 2})

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, "connection lost", entries[0].Message)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "c1", ctx[LogFieldClientID])
		assert.Equal(t, "EOF", ctx[LogFieldError])
		assert.EqualValues(t, 2, ctx[LogFieldAttempt])
	})

	t.Run("level", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		l := NewZapLogger(zap.New(core), LogLevelWarn)
		child := l.WithFields(LogFields{"k": "v"})

		l.Info("i", nil)
		child.Warn("w", nil)
		assert.Equal(t, 1, logs.Len())

		l.SetLevel(LogLevelNone)
		child.Error("e", nil)
		assert.Equal(t, 1, logs.Len())
		assert.Equal(t, LogLevelNone, child.Level())
	})

	t.Run("nil logger", func(t *testing.T) {
		l := NewZapLogger(nil, LogLevelInfo)
		l.Info("nothing", nil)
		assert.Equal(t, LogLevelInfo, l.Level())
	})
}

func BenchmarkStdLogger(b *testing.B) {
	l := NewStdLogger(io.Discard, LogLevelInfo).WithFields(LogFields{LogFieldClientID: "bench"})
	fields := LogFields{LogFieldTopic: "a/b", LogFieldPacketID: 1}

	b.Run("enabled", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			l.Info("publish sent", fields)
		}
	})

	b.Run("filtered", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			l.Debug("publish sent", fields)
		}
	})
}
