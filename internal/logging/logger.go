package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/certflow/internal/config"
)

// NewLogger creates a structured zerolog.Logger with observability context fields
// from the config. Non-empty fields are added automatically.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.InstanceID != "" {
		ctx = ctx.Str("instance", cfg.InstanceID)
	}
	if cfg.TemporalTaskQueue != "" {
		ctx = ctx.Str("task_queue", cfg.TemporalTaskQueue)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
