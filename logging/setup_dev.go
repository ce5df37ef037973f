//go:build !prod

package logging

import (
	"log/slog"
	"os"
)

// Setup writes to stderr so stdout stays free for captions.
func Setup(cfg *Config) (*slog.Logger, func() error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}))
	setGlobal(logger)

	return logger, func() error { return nil }, nil
}
