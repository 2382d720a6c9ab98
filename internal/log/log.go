// Package log configures the process-wide zerolog logger.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Setup applies level and format to the global logger. Format "auto" picks
// console output only when stderr is a terminal, so service logs stay JSON
// under systemd while a foreground run stays readable.
func Setup(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	console := false
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		console = true
	case "json":
		console = false
	default:
		console = term.IsTerminal(int(os.Stderr.Fd()))
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err != nil && strings.TrimSpace(level) != "" {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
	}
}
