package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/HamedShams/pivotal-azure/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger. Dev runs get a console writer; everything
// else structured JSON. When LogPath is set, every event is also appended as
// a plain timestamped line to the operational log file so an operator can
// inspect a migration after the fact.
func New(cfg config.Config) zerolog.Logger {
	var writers []io.Writer
	if cfg.AppEnv == "dev" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				writers = append(writers, zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})
			}
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
