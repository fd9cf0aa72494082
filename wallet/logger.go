package wallet

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the wallet's default console logger.
func NewLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "nutzap-wallet").
		Logger()
}
