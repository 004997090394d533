package config

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the root logger. The returned closer releases the log
// file, if one was opened.
func NewLogger(cfg LoggingConfig) (hclog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = f
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "ttltree",
		Level:      hclog.LevelFromString(cfg.Level),
		Output:     out,
		JSONFormat: cfg.Format == "json",
	})
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
