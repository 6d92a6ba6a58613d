package main

import (
	"log/slog"

	"github.com/haasonsaas/toolgated/internal/observability"
)

// newServeLogger builds the process-wide logger for serve, whose level is
// controlled by its --debug flag.
func newServeLogger(level string) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{Level: level, Format: "json"})
}
