package logger

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	reset  = "\033[0m"
	gray   = "\033[1;90m"
	blue   = "\033[34m"
	yellow = "\033[33m"
	red    = "\033[31m"
)

func levelColor(l Level) string {
	switch l {
	case LevelTrace, LevelDebug:
		return color(gray)
	case LevelInfo:
		return color(blue)
	case LevelWarn:
		return color(yellow)
	case LevelError:
		return color(red)
	default:
		return ""
	}
}

// consoleLogger writes human-readable, optionally colorized lines to
// os.Stderr. It is the default Logger used when a caller does not
// supply one.
type consoleLogger struct {
	prefix   string
	metadata map[string]any
	level    Level
	ctx      context.Context
}

var _ Logger = (*consoleLogger)(nil)

// NewConsoleLogger returns a Logger that writes to stderr at level and
// above.
func NewConsoleLogger(level Level) Logger {
	return &consoleLogger{level: level, ctx: context.Background()}
}

func (c *consoleLogger) clone() *consoleLogger {
	md := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		md[k] = v
	}
	return &consoleLogger{prefix: c.prefix, metadata: md, level: c.level, ctx: c.ctx}
}

func (c *consoleLogger) With(metadata map[string]any) Logger {
	n := c.clone()
	for k, v := range metadata {
		n.metadata[k] = v
	}
	return n
}

func (c *consoleLogger) WithPrefix(prefix string) Logger {
	n := c.clone()
	if n.prefix == "" {
		n.prefix = prefix
	} else {
		n.prefix = n.prefix + "/" + prefix
	}
	return n
}

func (c *consoleLogger) WithContext(ctx context.Context) Logger {
	n := c.clone()
	n.ctx = ctx
	return n
}

func (c *consoleLogger) IsLevelEnabled(level Level) bool {
	return level >= c.level
}

func (c *consoleLogger) log(level Level, msg string, args ...any) {
	if !c.IsLevelEnabled(level) {
		return
	}
	ts := time.Now().Format("15:04:05.000")
	lc := levelColor(level)
	rst := color(reset)
	line := fmt.Sprintf("%s%-5s%s %s", lc, level.String(), rst, ts)
	if c.prefix != "" {
		line += " [" + c.prefix + "]"
	}
	line += " " + fmt.Sprintf(msg, args...)
	for k, v := range c.metadata {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(os.Stderr, line)
}

func (c *consoleLogger) Trace(msg string, args ...any) { c.log(LevelTrace, msg, args...) }
func (c *consoleLogger) Debug(msg string, args ...any) { c.log(LevelDebug, msg, args...) }
func (c *consoleLogger) Info(msg string, args ...any)  { c.log(LevelInfo, msg, args...) }
func (c *consoleLogger) Warn(msg string, args ...any)  { c.log(LevelWarn, msg, args...) }
func (c *consoleLogger) Error(msg string, args ...any) { c.log(LevelError, msg, args...) }
