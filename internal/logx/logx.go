package logx

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// New creates the invocation logger. Output goes to stderr so the child
// tool's stdout stays clean for scripting; every line carries a short run
// id so concurrent invocations can be told apart in shared CI logs.
func New(verbose bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, verbose)
}

// NewWithWriter is New with an explicit destination, for tests.
func NewWithWriter(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	runID := uuid.NewString()[:8]

	return zerolog.New(console).
		Level(level).
		With().
		Timestamp().
		Str("run", runID).
		Logger()
}
