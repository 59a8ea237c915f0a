// Streamreader: a command-line stream consumer. Connects to one or
// more stream URLs, prints a line per received event and optionally
// appends the raw wire format to a file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"driverstream/internal/config"
	"driverstream/internal/events"
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	label := fs.String("label", "", "client label for missed-event recovery")
	retrieveMissing := fs.Bool("retrieve-missing", false,
		"ask upstreams for events missed across reconnects")
	noCompression := fs.Bool("no-compression", false,
		"disable deflate negotiation")
	outFile := fs.String("output", "", "append raw events to this file")
	quiet := fs.Bool("quiet", false, "suppress per-event stdout lines")
	logLevel := fs.String("log-level", "warn", "log level")
	flag.Parse()

	opts := &config.ServerOptions{LogLevel: *logLevel}
	if err := opts.SetupLogging("streamreader"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: streamreader [flags] <stream url>...")
		os.Exit(2)
	}
	if *retrieveMissing && *label == "" {
		fmt.Fprintln(os.Stderr, "streamreader: -retrieve-missing requires -label")
		os.Exit(2)
	}

	var out *os.File
	if *outFile != "" {
		var err error
		out, err = os.OpenFile(*outFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer out.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := streaming.NewClient(streaming.ClientConfig{
		URLs:               urls,
		Label:              *label,
		RetrieveMissing:    *retrieveMissing,
		DisableCompression: *noCompression,
	}, func(evs []*events.Event) {
		for _, ev := range evs {
			if !*quiet {
				fmt.Printf("%s %s %s %s %s\n", ev.Timestamp, ev.EventID,
					ev.SourceID, ev.ApplicationID, ev.EventType)
			}
			if out != nil {
				if _, err := out.Write(events.Serialize(ev)); err != nil {
					slog.Error("output write failed", "error", err)
				}
			}
		}
	})

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("reader failed", "urls", strings.Join(urls, ","), "error", err)
		os.Exit(1)
	}
}
