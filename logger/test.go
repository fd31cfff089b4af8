package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// Formatted returns the message with its arguments applied.
func (e TestLogEntry) Formatted() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLog struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived through With,
// WithPrefix or WithContext share the same record, so a test can hand a
// derived logger to the code under test and inspect the parent.
type TestLogger struct {
	log      *testLog
	metadata map[string]interface{}
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{log: &testLog{}}
}

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{log: c.log, metadata: copyMetadata(c.metadata, metadata), child: child}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return level < LevelNone
}

// Entries returns a snapshot of the recorded entries.
func (c *TestLogger) Entries() []TestLogEntry {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	out := make([]TestLogEntry, len(c.log.entries))
	copy(out, c.log.entries)
	return out
}

// Contains reports whether an entry with severity contains substr in its
// formatted message.
func (c *TestLogger) Contains(severity, substr string) bool {
	for _, e := range c.Entries() {
		if e.Severity == severity && strings.Contains(e.Formatted(), substr) {
			return true
		}
	}
	return false
}

func (c *TestLogger) record(level string, msg string, args ...interface{}) {
	c.log.mu.Lock()
	c.log.entries = append(c.log.entries, TestLogEntry{level, msg, args, c.metadata})
	c.log.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARNING", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

// Fatal records the entry without exiting so tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{log: c.log, metadata: c.metadata, child: next}
}
