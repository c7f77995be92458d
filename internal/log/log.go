package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger, configured by Init.
var Logger zerolog.Logger

func init() {
	// Sensible default so packages that log before Init runs (mostly in
	// tests) don't panic on a zero-value logger.
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Level mirrors the subset of zerolog levels the coordinator exposes as
// configuration.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global logger. Call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagging every entry with the given
// component name, e.g. "coordinator" or "storage".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithDatabaseID returns a child logger tagging every entry with the
// owning database's identifier.
func WithDatabaseID(id string) zerolog.Logger {
	return Logger.With().Str("database_id", id).Logger()
}

// WithTransactionID returns a child logger tagging every entry with a
// transaction id.
func WithTransactionID(id uint64) zerolog.Logger {
	return Logger.With().Uint64("transaction_id", id).Logger()
}
