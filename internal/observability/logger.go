package observability

import (
	"log/slog"
	"os"
)

// LoggerConfig is the subset of service configuration the logger needs.
type LoggerConfig interface {
	GetLogLevel() string
	GetLogFormat() string
}

// NewLogger builds the service-wide slog.Logger from LOG_LEVEL and LOG_FORMAT.
// Unknown values fall back to info/json.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.GetLogLevel() {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.GetLogFormat() == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
