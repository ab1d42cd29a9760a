package logging

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/aegisgate/aegisgate/internal/config"
)

// New shapes slog so emitted telemetry matches the runtime logging policy.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	handler, err := handlerFor(cfg)
	if err != nil {
		return nil, err
	}
	return slog.New(handler).With(slog.String("component", "aegisgate")), nil
}

// NewAudit builds the dedicated audit channel. Audit events record every
// blocked request, WAF match, shadow-API discovery, PII redaction, and admin
// mutation; keeping them on a separate logger lets deployments route them to
// a different sink than runtime telemetry.
func NewAudit(cfg config.LoggingConfig) (*slog.Logger, error) {
	handler, err := handlerFor(cfg)
	if err != nil {
		return nil, err
	}
	return slog.New(handler).With(
		slog.String("component", "aegisgate"),
		slog.String("channel", "audit"),
	), nil
}

func handlerFor(cfg config.LoggingConfig) (slog.Handler, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unsupported level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		return slog.NewJSONHandler(os.Stdout, opts), nil
	case "text":
		return slog.NewTextHandler(os.Stdout, opts), nil
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}
}
