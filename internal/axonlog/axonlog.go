// Package axonlog builds the single zerolog.Logger the process constructs
// at startup and threads explicitly into the transports and their
// dispatcher (§9: no process-wide globals); the engine and stores take no
// logger. Mirrors the teacher's practice
// of a single constructed dependency passed down the call chain (see
// instance.NewManager, memory.NewMemoryDB), generalized from fmt.Fprintf
// diagnostics to structured zerolog fields.
package axonlog

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a logger writing to w at the given level. Levels that
// zerolog.ParseLevel rejects fall back to info here rather than returning
// an error.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ForConflict logs at warn level, matching §7's "Logs at warn level for
// Conflict/Validation, error level for Store."
func ForConflict(log zerolog.Logger, op string, err error) {
	log.Warn().Str("op", op).Err(err).Msg("conflict")
}

// ForValidation logs at warn level per §7.
func ForValidation(log zerolog.Logger, op string, err error) {
	log.Warn().Str("op", op).Err(err).Msg("validation error")
}

// ForStore logs at error level per §7. No SQL strings or stack traces are
// passed in — callers pass the already-sanitized *coordination.Error.
func ForStore(log zerolog.Logger, op string, err error) {
	log.Error().Str("op", op).Err(err).Msg("store error")
}
