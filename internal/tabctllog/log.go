// Package tabctllog provides the leveled logging used across daemon, worker
// and CLI processes. It wraps logrus so call sites stay terse:
// tabctllog.Debug("ipc: dropping malformed line", "error", err).
package tabctllog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors the two-state verbosity the CLI exposes via --verbose.
type Level int

const (
	LevelQuiet Level = iota
	LevelVerbose
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Setup configures the package-level logger's verbosity. Called once from
// main after flags are parsed.
func Setup(level Level) {
	switch level {
	case LevelVerbose:
		base.SetLevel(logrus.DebugLevel)
	default:
		base.SetLevel(logrus.WarnLevel)
	}
}

// SetOutput redirects log output; tests use this to capture or silence it.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

// Debug logs at debug level with alternating key/value pairs, e.g.
// Debug("daemon request", "method", req.Method, "id", req.ID).
func Debug(msg string, kv ...any) {
	base.WithFields(fields(kv)).Debug(msg)
}

// Warn logs at warning level.
func Warn(msg string, kv ...any) {
	base.WithFields(fields(kv)).Warn(msg)
}

// Error logs at error level.
func Error(msg string, kv ...any) {
	base.WithFields(fields(kv)).Error(msg)
}

// Info logs at info level.
func Info(msg string, kv ...any) {
	base.WithFields(fields(kv)).Info(msg)
}
