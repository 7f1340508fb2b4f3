package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

var sessionFile *os.File

// Init configures the global logger: human-readable console output on stderr
// plus, when logDir is non-empty, an append-only JSONL event stream for the
// session at <logDir>/queue_<timestamp>.jsonl. The session file is created
// once per process start and only ever appended to.
func Init(serviceName, logDir string) error {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	var out io.Writer = console

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return err
		}
		name := "queue_" + time.Now().Format("20060102_150405") + ".jsonl"
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		sessionFile = f
		out = zerolog.MultiLevelWriter(console, f)
	}

	Logger = log.Output(out).
		With().
		Str("service", serviceName).
		Timestamp().
		Logger()

	if sessionFile != nil {
		Logger.Info().Str("session_log", sessionFile.Name()).Msg("Log session started")
	}
	return nil
}

// Close flushes and closes the session event file, if one was opened.
func Close() error {
	if sessionFile == nil {
		return nil
	}
	err := sessionFile.Close()
	sessionFile = nil
	return err
}

// SessionPath returns the path of the current session event file, or "".
func SessionPath() string {
	if sessionFile == nil {
		return ""
	}
	return sessionFile.Name()
}

func WithJobID(jobID string) *zerolog.Logger {
	l := Logger.With().Str("job_id", jobID).Logger()
	return &l
}

func WithCorrelationID(correlationID string) *zerolog.Logger {
	l := Logger.With().Str("correlation_id", correlationID).Logger()
	return &l
}
