// Scores: the REST server behind the feedback path. Serves the
// driver-scores endpoint over the spatial score index, an index dump
// for diagnostics, and the last-known-data endpoints fed by relay
// clients subscribed to the collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"driverstream/internal/config"
	"driverstream/internal/events"
	"driverstream/internal/latest"
	"driverstream/internal/scores"
	"driverstream/internal/streaming"
	"driverstream/internal/util"
)

func main() {
	fs := flag.CommandLine
	opts := config.AddServerOptions(fs, 9101)
	searchRadius := fs.Float64("search-radius", 250.0,
		"nearby-score search radius in meters")
	indexTTL := fs.Float64("index-ttl", 259200,
		"score index entry lifetime in seconds")
	allowSameUser := fs.Bool("allow-same-user", false,
		"let lookups return the caller's own scores when old enough")
	upstreams := fs.String("upstreams", "",
		"comma-separated stream URLs to feed the last-known-data store")
	flag.Parse()

	if err := opts.SetupLogging("scores"); err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := scores.NewIndex(*searchRadius,
		time.Duration(*indexTTL*float64(time.Second)), scores.IndexOptions{
			Ordered:       true,
			AllowSameUser: *allowSameUser,
		})
	if err != nil {
		slog.Error("score index init failed", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	svc := scores.NewService(index)
	go svc.Run(ctx, time.Minute, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/driver_scores", svc.HandleDriverScores)
	mux.HandleFunc("/dump_index", svc.HandleDumpIndex)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	var g errgroup.Group
	if *upstreams != "" {
		urls := strings.Split(*upstreams, ",")
		endpoints := []struct {
			path  string
			app   string
			store string
		}{
			{"/last_driver_data", events.AppSmartDriver, "driver"},
			{"/last_sleep_data", events.AppFitbitSleep, "sleep"},
			{"/last_steps_data", events.AppFitbitSteps, "steps"},
		}
		for _, ep := range endpoints {
			store, err := latest.Open(ep.store)
			if err != nil {
				slog.Error("latest store init failed",
					"endpoint", ep.path, "error", err)
				os.Exit(1)
			}
			defer store.Close()
			mux.HandleFunc(ep.path, latestHandler(store))

			app := ep.app
			client := streaming.NewClient(streaming.ClientConfig{
				URLs:            urls,
				Label:           "scores-" + ep.store,
				RetrieveMissing: true,
			}, func(evs []*events.Event) {
				for _, ev := range evs {
					if ev.ApplicationID != app {
						continue
					}
					if err := store.Set(ctx, ev.SourceID,
						events.Serialize(ev), 0); err != nil {
						slog.Error("latest store write failed",
							"source", ev.SourceID, "error", err)
					}
				}
			})
			g.Go(func() error { return client.Run(ctx) })
		}
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", opts.Port), Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("scores server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

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
	g.Wait()
}

// latestHandler serves GET ?user=<source id>, replying with the
// serialized latest event of that source.
func latestHandler(store latest.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			util.RespondUnprocessable(w, "user is required")
			return
		}
		value, found, err := store.Get(r.Context(), user)
		if err != nil {
			util.RespondInternalError(w, "store lookup failed")
			return
		}
		if !found {
			util.RespondNotFound(w, "no data for user")
			return
		}
		w.Header().Set("Content-Type", streaming.MediaType)
		w.Write(value)
	}
}
