package app

import (
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger creates the console logger. When runLog is set, every record is
// also written to it as JSON. It does not set the global logger, allowing
// for isolated logger instances.
func newLogger(levelStr, formatStr string, outW, runLog io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(levelStr)}

	var console slog.Handler
	if formatStr == "json" {
		console = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		console = slog.NewTextHandler(outW, handlerOpts)
	}
	if runLog == nil {
		return slog.New(console)
	}

	// The run log keeps debug records regardless of the console level.
	file := slog.NewJSONHandler(runLog, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(slogmulti.Fanout(console, file))
}
