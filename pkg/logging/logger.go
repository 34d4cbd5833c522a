// Package logging configures the process-wide zerolog logger and hands out
// per-component child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config controls where and how verbosely the process logs.
type Config struct {
	// Level is the minimum level written (debug, info, warn, error).
	Level LogLevel

	// Pretty switches the console output from JSON to zerolog's ConsoleWriter.
	Pretty bool

	// Output receives console output. Nil means os.Stderr.
	Output io.Writer

	// File additionally writes JSON logs to a rotating file when set.
	File string

	// FileMaxSizeMB is the size at which the log file is rotated (default: 100).
	FileMaxSizeMB int

	// FileMaxBackups is the number of rotated files to keep (default: 5).
	FileMaxBackups int
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:          LevelInfo,
		Pretty:         false,
		Output:         os.Stderr,
		FileMaxSizeMB:  100,
		FileMaxBackups: 5,
	}
}

var (
	fileMu sync.Mutex
	file   *lumberjack.Logger
)

// Setup installs the global logger used by NewLogger and returns it. Console
// output goes to cfg.Output; with cfg.File set every event is also written
// as JSON to a size-rotated file. Calling Setup again closes a file opened
// by the previous call.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	out := console
	fileMu.Lock()
	if file != nil {
		file.Close()
		file = nil
	}
	if cfg.File != "" {
		file = newFileWriter(cfg)
		out = zerolog.MultiLevelWriter(console, file)
	}
	fileMu.Unlock()

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// Close flushes and closes the log file opened by Setup, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// parseLevel maps a configured level onto zerolog. Unknown or empty levels
// fall back to info; "warning" is accepted as an alias.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func newFileWriter(cfg Config) *lumberjack.Logger {
	maxSize := cfg.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := cfg.FileMaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}

// NewLogger returns a child of the global logger tagged with component.
// Call it after Setup; loggers created earlier keep the previous output.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss and strategy decisions
//   - Network fetches and their classification
//   - Passthrough requests
//
// Info: Normal operation events
//   - Served requests
//   - Install, activate and restore of a controller version
//   - Stale partitions deleted
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Cache lookup or write errors (treated as miss / skipped)
//   - Requests that failed offline
//   - Fallback resource missing from the manifest
//
// Error: Error conditions requiring attention
//   - Failed install (previous controller kept)
//   - Failed activation
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (controller, fetcher, proxy, registration)
//   - version: controller version / partition name
//   - url: request URL
//   - mode: request mode (navigate, no-cors, cors, same-origin)
//   - strategy: network-first or cache-first
//   - outcome: served-from-cache, served-from-network, served-fallback, ...
//   - request_id: per-request uuid
//   - duration: handling duration
//   - error_class: network, timeout, canceled, cors
