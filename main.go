// Collector: the stream node drivers publish to. Accepts event batches
// on /events, serves long-poll, compressed and websocket subscriptions,
// republishes per-type sub-streams and answers each Vehicle Location
// publish with synchronous driver feedback.
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
	"driverstream/internal/feedback"
	"driverstream/internal/stats"
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9100)
	disablePersistence := fs.Bool("disable-persistence", false,
		"do not append accepted events to the event log")
	persistDir := fs.String("persist-dir", "data", "event log directory")
	disableFeedback := fs.Bool("disable-feedback", false,
		"reply to publishes with an empty 200 instead of driver feedback")
	disableRoadInfo := fs.Bool("disable-road-info", false,
		"report the road-info feedback section as disabled")
	scoreInfoURL := fs.String("score-info-url",
		"http://localhost:9101/driver_scores", "driver-scores service URL")
	roadInfoURL := fs.String("road-info-url", "", "road metadata service URL")
	backendStream := fs.String("backend-stream", "",
		"forward accepted events to this stream publish URL")
	logEventTime := fs.String("log-event-time", "",
		"append event id and arrival time to this file")
	flag.Parse()

	if err := opts.SetupLogging("collector"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := streaming.New(streaming.Config{
		Path:          "events",
		Label:         "collector",
		BufferingTime: opts.BufferingTime(),
		AllowPublish:  true,
		ParseBody:     true,
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

	var responder streaming.PublishResponder
	if !*disableFeedback {
		h := feedback.NewHandler(feedback.Config{
			Enabled:         true,
			RoadInfoEnabled: !*disableRoadInfo,
			ScoreInfoURL:    *scoreInfoURL,
			RoadInfoURL:     *roadInfoURL,
		})
		go h.Run(ctx, time.Minute)
		responder = h
	}

	srv := streaming.NewServer(opts.Port)
	srv.AddStreamWithResponder(st, responder)
	for _, sub := range relays.Streams() {
		srv.AddStream(sub)
	}

	if *backendStream != "" {
		pub := streaming.NewPublisher(streaming.PublisherConfig{
			TargetURL:     *backendStream,
			BufferingTime: opts.BufferingTime(),
			Compress:      true,
			Label:         "collector-forward",
		})
		st.AddTap(func(ev *events.Event) { pub.Publish(ev) })
		go pub.Run(ctx)
		defer func() { <-pub.Done() }()
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
