// Package logging builds the zerolog logger shared by the server and the
// audit consumer.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w (stdout when nil). format
// "console" selects the human-readable writer, anything else JSON. An
// unknown level falls back to info.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
