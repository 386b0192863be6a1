package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerCapturesEntries(t *testing.T) {
	l := NewTestLogger()
	l.Debug("hello %s", "world")
	child := l.With(map[string]any{"query": "k"})
	child.Warn("stale")

	entries := l.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, LevelDebug, entries[0].Level)
	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, "k", entries[1].Metadata["query"])
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	l := Noop()
	l.Debug("anything")
	assert.False(t, l.IsLevelEnabled(LevelError))
}

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	l := NewConsoleLogger(LevelWarn)
	assert.False(t, l.IsLevelEnabled(LevelDebug))
	assert.True(t, l.IsLevelEnabled(LevelError))
	withPrefix := l.WithPrefix("query")
	assert.True(t, withPrefix.IsLevelEnabled(LevelWarn))
}
