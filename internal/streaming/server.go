package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driverstream/internal/events"
	"driverstream/internal/stats"
	"driverstream/internal/util"
)

// MediaType is the content type of the framed event wire format.
const MediaType = "application/x-event-stream"

// Request body size limit for publishes.
const maxPublishBody = 512 * 1024

// PublishResponder lets a stream owner take over the publish response
// after dispatch, e.g. to reply with driver feedback. Returning false
// falls through to the default empty 200.
type PublishResponder interface {
	RespondPublish(w http.ResponseWriter, r *http.Request, evs []*events.Event) bool
}

// Server hosts one or more stream nodes on a single HTTP listener,
// together with /health and /metrics.
type Server struct {
	mux     *http.ServeMux
	httpSrv *http.Server
	streams []*Stream
}

// NewServer creates a server bound to the given port.
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		mux: mux,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Handle registers an extra handler on the server mux.
func (srv *Server) Handle(pattern string, handler http.Handler) {
	srv.mux.Handle(pattern, handler)
}

// AddStream mounts a stream's HTTP surface with the default publish
// response.
func (srv *Server) AddStream(st *Stream) {
	srv.AddStreamWithResponder(st, nil)
}

// AddStreamWithResponder mounts a stream's HTTP surface:
//
//	GET  /<path>/stream     long-poll subscription
//	GET  /<path>/compressed long-poll with deflate forced
//	GET  /<path>/ws         websocket subscription
//	POST /<path>            publish (GET alias for embedded clients)
func (srv *Server) AddStreamWithResponder(st *Stream, responder PublishResponder) {
	base := "/" + st.Path()
	srv.mux.HandleFunc(base+"/stream", st.handleSubscribe(false))
	srv.mux.HandleFunc(base+"/compressed", st.handleSubscribe(true))
	srv.mux.HandleFunc(base+"/ws", st.handleWebsocket)
	srv.mux.HandleFunc(base, st.handlePublish(responder))
	srv.streams = append(srv.streams, st)
}

// Start starts every stream and serves until Shutdown. Returns
// http.ErrServerClosed on clean shutdown.
func (srv *Server) Start() error {
	for _, st := range srv.streams {
		if err := st.Start(); err != nil {
			return fmt.Errorf("start stream %s: %w", st.Path(), err)
		}
	}
	slog.Info("stream server listening", "addr", srv.httpSrv.Addr,
		"streams", len(srv.streams))
	return srv.httpSrv.ListenAndServe()
}

// Shutdown stops the streams, then the listener.
func (srv *Server) Shutdown(ctx context.Context) error {
	for _, st := range srv.streams {
		st.Stop()
	}
	return srv.httpSrv.Shutdown(ctx)
}

// handlePublish accepts POSTed (or, for embedded clients, GET) batches
// of serialized events.
func (st *Stream) handlePublish(responder PublishResponder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			util.RespondMethodNotAllowed(w, "publish requires POST or GET")
			return
		}
		if !st.cfg.AllowPublish {
			util.RespondMethodNotAllowed(w, "stream is read-only")
			return
		}

		var reader io.Reader = http.MaxBytesReader(w, r.Body, maxPublishBody)
		if r.Header.Get("Content-Encoding") == "deflate" {
			fr := events.DeflateReader(reader)
			defer fr.Close()
			reader = fr
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			stats.PublishErrors.WithLabelValues(st.label, "read").Inc()
			util.RespondBadRequest(w, "unreadable request body")
			return
		}
		evs, err := events.Deserialize(body)
		if err != nil {
			stats.PublishErrors.WithLabelValues(st.label, "parse").Inc()
			util.RespondBadRequest(w, "malformed events")
			return
		}
		if len(evs) == 0 {
			util.RespondBadRequest(w, "no events in request")
			return
		}

		if err := st.Dispatch(evs...); err != nil {
			if errors.Is(err, ErrStopped) {
				stats.PublishErrors.WithLabelValues(st.label, "stopped").Inc()
				util.RespondServiceUnavailable(w, "stream stopped")
				return
			}
			util.RespondInternalError(w, "dispatch failed")
			return
		}

		if responder != nil && responder.RespondPublish(w, r, evs) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleSubscribe serves the long-lived streaming subscription. The
// response stays open and is flushed once per buffering window.
func (st *Stream) handleSubscribe(forceDeflate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			util.RespondInternalError(w, "streaming not supported")
			return
		}
		q := r.URL.Query()
		useDeflate := forceDeflate || q.Get("deflate") != "" ||
			strings.Contains(r.Header.Get("Accept-Encoding"), "deflate")

		sub, err := st.Subscribe(SubscribeOptions{
			Label:      q.Get("label"),
			LastSeenID: q.Get("last_seen_id"),
		})
		if err != nil {
			util.RespondServiceUnavailable(w, "stream stopped")
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", MediaType)
		w.Header().Set("Cache-Control", "no-cache")
		if useDeflate {
			w.Header().Set("Content-Encoding", "deflate")
		}

		var out io.Writer = w
		var fw *flate.Writer
		if useDeflate {
			fw, _ = flate.NewWriter(w, flate.DefaultCompression)
			defer fw.Close()
			out = fw
		}

		write := func(data []byte) bool {
			if _, err := out.Write(data); err != nil {
				return false
			}
			if fw != nil {
				if err := fw.Flush(); err != nil {
					return false
				}
			}
			flusher.Flush()
			return true
		}

		if sub.Gap() {
			gap := events.New(st.label, "", "", GapEventType, nil)
			if !write(events.Serialize(gap)) {
				return
			}
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("subscriber disconnected",
					"stream", st.label, "label", sub.opts.Label)
				return
			case batch, ok := <-sub.Events():
				if !ok {
					return
				}
				if !write(events.SerializeAll(batch)) {
					return
				}
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Subscriptions are data feeds, not browser sessions.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket serves the same subscription over a websocket. Each
// flushed batch becomes one binary message in wire format.
func (st *Stream) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sub, err := st.Subscribe(SubscribeOptions{
		Label:      q.Get("label"),
		LastSeenID: q.Get("last_seen_id"),
	})
	if err != nil {
		util.RespondServiceUnavailable(w, "stream stopped")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}
	defer conn.Close()
	defer sub.Close()

	// Reader goroutine detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if sub.Gap() {
		gap := events.New(st.label, "", "", GapEventType, nil)
		if err := conn.WriteMessage(websocket.BinaryMessage, events.Serialize(gap)); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case batch, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, events.SerializeAll(batch)); err != nil {
				return
			}
		}
	}
}
