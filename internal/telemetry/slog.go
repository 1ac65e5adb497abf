package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// logLevel backs the default logger so the level can change at runtime (see SetLogLevel).
var logLevel = new(slog.LevelVar)

// ParseLevel maps a configuration level string to a slog.Level. Unknown values yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// SetupLogger configures the global slog default logger based on the supplied format and level
// strings read from application configuration.
//
// format: "json"    → JSONHandler (machine readable; recommended for production)
//
//	"console" → tint handler (colourised, for local development)
//	anything else → TextHandler
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
func SetupLogger(format, level string) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, format, level)))
	slog.Info("logger initialised", "format", format, "level", logLevel.Level().String())
}

func newHandler(w io.Writer, format, level string) slog.Handler {
	lvl := ParseLevel(level)
	logLevel.Set(lvl)

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: lvl == slog.LevelDebug,
		})
	case "console":
		return tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			AddSource:  lvl == slog.LevelDebug,
			TimeFormat: time.Kitchen,
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: lvl == slog.LevelDebug,
		})
	}
}

// SetLogLevel changes the level of the logger installed by SetupLogger without rebuilding it.
func SetLogLevel(level string) {
	lvl := ParseLevel(level)
	if lvl == logLevel.Level() {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

// LogLevel returns the current level of the default logger.
func LogLevel() slog.Level {
	return logLevel.Level()
}
