// Package logger provides the structured logging used by every other
// package in this module in place of fmt.Println or the bare stdlib log
// package. It is adapted from gcsfuse's internal/logger: a log/slog logger
// behind a package-level default, configurable at runtime between a
// human-readable text format and a JSON format, with a severity level that
// can be lowered or raised without restarting the process.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fluid-notion-systems/ize/internal/config"
)

// Custom levels. slog's built-in levels only cover Debug/Info/Warn/Error; we
// add Trace below Debug and Off above Error to match the severity names
// SetLoggingLevel accepts (config.TRACE through config.OFF).
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

type loggerFactory struct {
	mu     sync.Mutex
	level  string
	format string
	writer io.Writer
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:  config.INFO,
		format: "text",
		writer: os.Stderr,
	}
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(os.Stderr, programLevel, ""))
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
}

// SetLoggingLevel changes the minimum severity that gets logged. Safe to
// call concurrently with logging calls.
func SetLoggingLevel(level string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.level = level
	setLoggingLevel(level, programLevel)
}

func setLoggingLevel(level string, lv *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case config.TRACE:
		lv.Set(LevelTrace)
	case config.DEBUG:
		lv.Set(LevelDebug)
	case config.INFO:
		lv.Set(LevelInfo)
	case config.WARNING:
		lv.Set(LevelWarn)
	case config.ERROR:
		lv.Set(LevelError)
	case config.OFF:
		lv.Set(LevelOff)
	default:
		lv.Set(LevelInfo)
	}
}

// SetLogFormat switches between "text" and "json" output. Any other value
// (including empty) is treated as "json", matching gcsfuse's behavior.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(defaultLoggerFactory.writer, programLevel, ""))
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.writer = w
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w, programLevel, ""))
}

func (f *loggerFactory) createHandler(w io.Writer, lv *slog.LevelVar, prefix string) slog.Handler {
	if strings.ToLower(f.format) == "text" {
		return &textHandler{w: w, level: lv, prefix: prefix}
	}
	return &jsonHandler{w: w, level: lv, prefix: prefix}
}

func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func logf(level slog.Level, format string, args ...any) {
	defaultLoggerFactory.mu.Lock()
	l := defaultLogger
	defaultLoggerFactory.mu.Unlock()

	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
