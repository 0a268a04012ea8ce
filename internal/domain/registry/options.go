package registry

import (
	"log/slog"

	"github.com/webitel/im-live-service/internal/clock"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithLogger routes registry diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.config.logger = logger
		}
	}
}

// WithClock sets the time source used for uptime reporting.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.config.clock = c
		}
	}
}
