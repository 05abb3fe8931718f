// Package logging configures JSON structured logging for vault services.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes an optional rotating log file written alongside
// stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RotatingFile returns a size-rotated writer for cfg, or nil when no path is
// set.
func RotatingFile(cfg FileConfig) io.WriteCloser {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Setup installs a JSON logger on stdout as the slog default and bridges the
// standard library logger onto it. When file is non-nil every line is also
// written there. The level is read from LOG_LEVEL. Every line carries the
// service name and, when set, the environment.
func Setup(service, env string, file io.Writer) *slog.Logger {
	var out io.Writer = os.Stdout
	if file != nil {
		out = io.MultiWriter(os.Stdout, file)
	}
	logger, handler := build(out, service, env, ParseLevel(os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)

	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}

// New returns a logger writing JSON lines to w without touching the process
// defaults.
func New(w io.Writer, service, env string, level slog.Level) *slog.Logger {
	logger, _ := build(w, service, env, level)
	return logger
}

// ParseLevel maps debug, info, warn and error (any case) onto slog levels.
// Anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func build(w io.Writer, service, env string, level slog.Level) (*slog.Logger, slog.Handler) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)
	return slog.New(handler), handler
}
