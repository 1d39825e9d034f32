// Package logger configures the process-wide zerolog logger and hands
// out component-tagged sub-loggers for packages (such as the
// reconciliation loop) that want to label their own debug output
// without re-deriving the base configuration.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config controls where log lines go and how verbose they are.
type Config struct {
	Output string // "stdout", "stderr", or a file path
	Level  string // "debug", "info", "warn", "error"
	File   string // log file path, used when Output names neither stdout nor stderr
}

// Init installs the global zerolog logger for the process: a
// colorized console writer for terminal output, or line-delimited
// JSON when writing to a file, with a caller field added only at
// debug level.
func Init(cfg Config) error {
	writer, err := resolveWriter(cfg)
	if err != nil {
		return err
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.CallerMarshalFunc = shortCaller

	logger := newLogger(cfg, writer, level)
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger
	return nil
}

// Named returns a logger derived from the current global logger with a
// "component" field set to name, so a subsystem's debug lines (e.g. the
// reconciliation loop under the debug flag) can be grep'd out of a
// shared log stream without that subsystem owning its own writer.
func Named(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}

func resolveWriter(cfg Config) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func isConsole(cfg Config) bool {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "stderr", "":
		return true
	default:
		return false
	}
}

func newLogger(cfg Config, writer io.Writer, level zerolog.Level) zerolog.Logger {
	if isConsole(cfg) {
		cw := zerolog.ConsoleWriter{Out: writer, TimeFormat: time.TimeOnly}
		if level != zerolog.DebugLevel {
			return zerolog.New(cw).With().Timestamp().Logger()
		}
		cw.PartsOrder = []string{"time", "level", "message", "caller"}
		cw.FormatCaller = func(i interface{}) string {
			return "(" + i.(string) + ")"
		}
		return zerolog.New(cw).With().Timestamp().Caller().Logger()
	}

	base := zerolog.New(writer).With().Timestamp()
	if level == zerolog.DebugLevel {
		return base.Caller().Logger()
	}
	return base.Logger()
}

// shortCaller trims a caller path down to its parent package dir plus
// file:line, so log lines stay readable against a full GOPATH-style path.
func shortCaller(_ uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// parseLevel maps a config string onto a zerolog level, defaulting to
// info for an empty or unrecognized value.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
