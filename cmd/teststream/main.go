// Teststream: a bare publishable stream node for load and integration
// testing. Optionally generates synthetic Vehicle Location traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driverstream/internal/config"
	"driverstream/internal/events"
	"driverstream/internal/streaming"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9105)
	generate := fs.Float64("generate", 0,
		"publish this many synthetic events per second")
	sources := fs.Int("sources", 10, "synthetic source count")
	flag.Parse()

	if err := opts.SetupLogging("teststream"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := streaming.New(streaming.Config{
		Path:          "events",
		Label:         "teststream",
		BufferingTime: opts.BufferingTime(),
		AllowPublish:  true,
	})

	if *generate > 0 {
		go generateTraffic(ctx, st, *generate, *sources)
	}

	srv := streaming.NewServer(opts.Port)
	srv.AddStream(st)

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

// generateTraffic publishes synthetic location events at the requested
// rate, cycling through the configured source count.
func generateTraffic(ctx context.Context, st *streaming.Stream, rate float64, sources int) {
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		source := fmt.Sprintf("test-driver-%d", n%sources)
		n++
		body := fmt.Sprintf(
			`{"Location":{"latitude":%f,"longitude":%f,"score":%f}}`,
			40.0+rand.Float64(), -3.0-rand.Float64(), rand.Float64()*100)
		ev := events.New(source, events.SyntaxJSON,
			events.AppSmartDriver, "Vehicle Location", []byte(body))
		if err := st.Dispatch(ev); err != nil {
			return
		}
	}
}
