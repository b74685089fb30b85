package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger creates a logger honoring --log-level over the config
// file's log_level. Returns an error if the flag value is invalid.
func configureLogger(cmd *cobra.Command, configLevel string) (*logrus.Logger, error) {
	levelStr := configLevel
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		levelStr = flagLevel
	}
	if levelStr == "" {
		levelStr = "info"
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
