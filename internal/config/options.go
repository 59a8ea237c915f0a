// Package config holds the shared command-line options and logger
// setup for the stream server binaries.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServerOptions are the flags every stream server shares.
type ServerOptions struct {
	// Port is the HTTP listen port.
	Port int
	// Buffer is the dispatch buffering window in seconds. Zero
	// disables batching.
	Buffer float64
	// LogLevel is debug, info, warn or error. The LOG_LEVEL
	// environment variable overrides the default.
	LogLevel string
	// LogDir, when set, duplicates the log to a file under it.
	LogDir string
	// DisableStderr suppresses the stderr log sink.
	DisableStderr bool
}

// AddServerOptions registers the shared flags on fs.
func AddServerOptions(fs *flag.FlagSet, defaultPort int) *ServerOptions {
	opts := &ServerOptions{}
	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	fs.IntVar(&opts.Port, "port", defaultPort, "HTTP listen port")
	fs.Float64Var(&opts.Buffer, "buffer", 2.0,
		"dispatch buffering window in seconds (0 disables batching)")
	fs.StringVar(&opts.LogLevel, "log-level", defaultLevel,
		"log level: debug, info, warn or error")
	fs.StringVar(&opts.LogDir, "log-dir", "", "also log to a file under this directory")
	fs.BoolVar(&opts.DisableStderr, "disable-stderr-log", false,
		"suppress the stderr log sink")
	return opts
}

// BufferingTime converts the buffer flag to a duration.
func (o *ServerOptions) BufferingTime() time.Duration {
	if o.Buffer <= 0 {
		return 0
	}
	return time.Duration(o.Buffer * float64(time.Second))
}

// SetupLogging installs the process-wide JSON logger according to the
// options. The program name picks the log file name.
func (o *ServerOptions) SetupLogging(program string) error {
	level, err := parseLevel(o.LogLevel)
	if err != nil {
		return err
	}

	var sinks []io.Writer
	if !o.DisableStderr {
		sinks = append(sinks, os.Stderr)
	}
	if o.LogDir != "" {
		if err := os.MkdirAll(o.LogDir, 0o755); err != nil {
			return fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(o.LogDir, program+".log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		sinks = append(sinks, f)
	}

	var out io.Writer = io.Discard
	if len(sinks) == 1 {
		out = sinks[0]
	} else if len(sinks) > 1 {
		out = io.MultiWriter(sinks...)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
