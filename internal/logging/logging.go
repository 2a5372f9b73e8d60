// Package logging wraps log/slog with optional rotating file output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a *slog.Logger that tolerates a nil receiver: debug and info
// messages on a nil Logger are dropped, warnings and errors go to the slog
// default logger.
type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time
}

// Options configures New.
type Options struct {
	Level string // debug, info, warn, error
	Dir   string // rotate logs into Dir/aerohydra.slog; stderr only when empty
	JSON  bool   // JSON records on stderr instead of text
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to stderr and, if opts.Dir is set, to a
// size-rotated file.
func New(opts Options) *Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		h = slog.NewTextHandler(os.Stderr, hopts)
	}

	l := &Logger{Start: time.Now()}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: %s: %v\n", opts.Dir, err)
		} else {
			w := &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, "aerohydra.slog"),
				MaxSize:    32, // MB
				MaxBackups: 3,
				MaxAge:     14,
				Compress:   true,
			}
			l.LogFile = w.Filename
			h = slog.NewJSONHandler(io.MultiWriter(os.Stderr, w), hopts)
		}
	}
	l.Logger = slog.New(h)

	l.Info("logger started",
		slog.String("level", hopts.Level.Level().String()),
		slog.String("file", l.LogFile),
		slog.String("goos", runtime.GOOS),
		slog.String("goarch", runtime.GOARCH))
	if bi, ok := debug.ReadBuildInfo(); ok {
		l.Debug("build", slog.String("go", bi.GoVersion), slog.String("path", bi.Path))
	}
	return l
}

// NewWriter returns a logger that writes text records to w. Used by tests.
func NewWriter(w io.Writer, level string) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{Logger: slog.New(h), Start: time.Now()}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, "error")
}

func (l *Logger) enabled(level slog.Level) bool {
	return l != nil && l.Logger != nil && l.Logger.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(msg, args...)
	}
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(msg, args...)
	}
}

func (l *Logger) Infof(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		slog.Warn(msg, args...)
		return
	}
	l.Logger.Warn(msg, args...)
}

func (l *Logger) Warnf(msg string, args ...any) {
	l.Warn(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		slog.Error(msg, args...)
		return
	}
	l.Logger.Error(msg, args...)
}

func (l *Logger) Errorf(msg string, args ...any) {
	l.Error(fmt.Sprintf(msg, args...))
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.Logger == nil {
		return nil
	}
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
		Start:   l.Start,
	}
}
