// Frontend: a collector variant for tiered deployments. It accepts
// publishes and answers feedback like the collector, but keeps nothing
// on disk and forwards every accepted event to a backend stream.
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
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9110)
	backendStream := fs.String("backend-stream",
		"http://localhost:9109/events", "backend stream publish URL")
	disableFeedback := fs.Bool("disable-feedback", false,
		"reply to publishes with an empty 200 instead of driver feedback")
	disableRoadInfo := fs.Bool("disable-road-info", false,
		"report the road-info feedback section as disabled")
	scoreInfoURL := fs.String("score-info-url",
		"http://localhost:9101/driver_scores", "driver-scores service URL")
	roadInfoURL := fs.String("road-info-url", "", "road metadata service URL")
	flag.Parse()

	if err := opts.SetupLogging("frontend"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := streaming.New(streaming.Config{
		Path:          "events",
		Label:         "frontend",
		BufferingTime: opts.BufferingTime(),
		AllowPublish:  true,
		ParseBody:     true,
	})

	pub := streaming.NewPublisher(streaming.PublisherConfig{
		TargetURL:     *backendStream,
		BufferingTime: opts.BufferingTime(),
		Compress:      true,
		Label:         "frontend-forward",
	})
	st.AddTap(func(ev *events.Event) { pub.Publish(ev) })
	go pub.Run(ctx)
	defer func() { <-pub.Done() }()

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
