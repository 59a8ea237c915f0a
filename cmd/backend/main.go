// Backend: the aggregation node frontends forward into. Bodies stay
// opaque here; the node persists everything, republishes per-type
// sub-streams and logs minute-aligned throughput.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driverstream/internal/config"
	"driverstream/internal/events"
	"driverstream/internal/stats"
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9109)
	disablePersistence := fs.Bool("disable-persistence", false,
		"do not append accepted events to the event log")
	persistDir := fs.String("persist-dir", "data", "event log directory")
	logEventTime := fs.String("log-event-time", "",
		"append event id and arrival time to this file")
	flag.Parse()

	if err := opts.SetupLogging("backend"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := streaming.New(streaming.Config{
		Path:          "events",
		Label:         "backend",
		BufferingTime: opts.BufferingTime(),
		AllowPublish:  true,
		PersistEvents: !*disablePersistence,
		PersistDir:    *persistDir,
	})
	if *logEventTime != "" {
		arrivals, err := stats.OpenArrivalLog(*logEventTime)
		if err != nil {
			slog.Error("arrival log open failed", "error", err)
			os.Exit(1)
		}
		defer arrivals.Close()
		st.SetArrivalRecorder(arrivals)
	}

	relays := streaming.NewEventTypeRelays(st, events.AppSmartDriver,
		events.SmartDriverEventTypes, opts.BufferingTime())

	var accepted stats.Counter
	st.AddTap(func(*events.Event) { accepted.Add(1) })
	tracker := stats.NewTracker("backend", accepted.Value)
	go tracker.Run(ctx)

	srv := streaming.NewServer(opts.Port)
	srv.AddStream(st)
	for _, sub := range relays.Streams() {
		srv.AddStream(sub)
	}

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
}
