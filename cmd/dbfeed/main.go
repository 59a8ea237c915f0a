// Dbfeed: consumes backend streams over the relay client, keeps every
// event except the high-volume SmartDriver Vehicle Location feed, and
// persists what remains for downstream database loading.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"driverstream/internal/config"
	"driverstream/internal/events"
	"driverstream/internal/stats"
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9102)
	upstreams := fs.String("upstreams",
		"http://localhost:9109/events/stream",
		"comma-separated upstream stream URLs")
	persistDir := fs.String("persist-dir", "data", "event log directory")
	flag.Parse()

	if err := opts.SetupLogging("dbfeed"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	rs := streaming.NewRelayStream(streaming.Config{
		Path:            "events",
		Label:           "dbfeed",
		NumRecentEvents: 1 << 17,
		BufferingTime:   opts.BufferingTime(),
		PersistEvents:   true,
		PersistDir:      *persistDir,
	}, strings.Split(*upstreams, ","), func(ev *events.Event) bool {
		// Locations arrive far too often to archive raw.
		return !(ev.ApplicationID == events.AppSmartDriver &&
			ev.EventType == "Vehicle Location")
	}, false)

	var accepted stats.Counter
	rs.AddTap(func(*events.Event) { accepted.Add(1) })
	tracker := stats.NewTracker("dbfeed", accepted.Value)
	go tracker.Run(ctx)

	srv := streaming.NewServer(opts.Port)
	srv.AddStream(rs.Stream)

	relayErr := make(chan error, 1)
	go func() { relayErr <- rs.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	<-relayErr
}
