package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"isoflow/internal/config"
)

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Init configures the global logger. When file is set, every line is also
// written there as JSON and the returned closer releases it.
func Init(lcfg config.LoggingConfig, file string) (io.Closer, error) {
	return InitTo(os.Stderr, lcfg, file)
}

// InitTo is Init with the console side sent to out.
func InitTo(out io.Writer, lcfg config.LoggingConfig, file string) (io.Closer, error) {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))

	var console io.Writer = out
	if strings.ToLower(lcfg.Format) == "console" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	if file == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := zerolog.MultiLevelWriter(console, f)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
