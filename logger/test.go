package logger

import "context"

// Entry is one captured log line, recorded by TestLogger.
type Entry struct {
	Level     Level
	Message   string
	Arguments []any
	Metadata  map[string]any
}

// TestLogger records every call instead of printing, so tests can assert
// on what a component logged.
type TestLogger struct {
	metadata map[string]any
	entries  *[]Entry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a Logger useful in tests.
func NewTestLogger() *TestLogger {
	entries := make([]Entry, 0)
	return &TestLogger{entries: &entries}
}

// Entries returns every entry logged so far, including by derived
// loggers returned from With/WithPrefix/WithContext.
func (t *TestLogger) Entries() []Entry {
	return *t.entries
}

func (t *TestLogger) With(metadata map[string]any) Logger {
	md := make(map[string]any, len(t.metadata)+len(metadata))
	for k, v := range t.metadata {
		md[k] = v
	}
	for k, v := range metadata {
		md[k] = v
	}
	return &TestLogger{metadata: md, entries: t.entries}
}

func (t *TestLogger) WithPrefix(string) Logger           { return t }
func (t *TestLogger) WithContext(context.Context) Logger { return t }
func (t *TestLogger) IsLevelEnabled(Level) bool          { return true }

func (t *TestLogger) record(level Level, msg string, args ...any) {
	*t.entries = append(*t.entries, Entry{Level: level, Message: msg, Arguments: args, Metadata: t.metadata})
}

func (t *TestLogger) Trace(msg string, args ...any) { t.record(LevelTrace, msg, args...) }
func (t *TestLogger) Debug(msg string, args ...any) { t.record(LevelDebug, msg, args...) }
func (t *TestLogger) Info(msg string, args ...any)  { t.record(LevelInfo, msg, args...) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.record(LevelWarn, msg, args...) }
func (t *TestLogger) Error(msg string, args ...any) { t.record(LevelError, msg, args...) }
