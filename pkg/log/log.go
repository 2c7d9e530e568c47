package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// root is the process logger. It starts disabled so library code and
// tests that never call Setup stay silent.
var root = zerolog.Nop()

// Options configures the process logger
type Options struct {
	Level  string    // zerolog level name; empty means "info"
	JSON   bool      // raw JSON lines instead of the console writer
	Output io.Writer // defaults to stdout
}

// Setup configures the process logger. The CLI calls this once before
// any component starts; the level is applied to the root logger, not
// globally, so embedding processes keep their own settings.
func Setup(opts Options) error {
	name := opts.Level
	if name == "" {
		name = "info"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// WithComponent returns a child logger scoped to one component of the
// process ("storage", "db-service", "bot", "kv-sweeper", ...).
func WithComponent(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

// WithPlugin returns a child logger for work done on behalf of a
// plugin: schema registration, row operations, migrations.
func WithPlugin(plugin string) zerolog.Logger {
	return root.With().Str("plugin", plugin).Logger()
}

// WithSubject returns a child logger for a bus handler, carrying the
// owning component and the subject being served so one subject's
// traffic can be filtered out of the stream.
func WithSubject(component, subject string) zerolog.Logger {
	return root.With().Str("component", component).Str("subject", subject).Logger()
}
