package streaming

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"driverstream/internal/events"
)

func newTestStream(t *testing.T, cfg Config) *Stream {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = "test"
	}
	st := New(cfg)
	if err := st.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(st.Stop)
	return st
}

func collect(t *testing.T, sub *Subscription, want int) []*events.Event {
	t.Helper()
	var got []*events.Event
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case batch, ok := <-sub.Events():
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(got), want)
			}
			got = append(got, batch...)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(got), want)
		}
	}
	return got
}

func TestDispatchOrdering(t *testing.T) {
	st := newTestStream(t, Config{})
	sub, err := st.Subscribe(SubscribeOptions{Label: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	evs := makeEvents(10)
	st.Dispatch(evs[:4]...)
	st.Dispatch(evs[4:]...)

	got := collect(t, sub, 10)
	for i, ev := range got {
		if ev.EventID != evs[i].EventID {
			t.Fatalf("event %d delivered out of order", i)
		}
	}
}

func TestSubscribeCatchUp(t *testing.T) {
	st := newTestStream(t, Config{})
	evs := makeEvents(6)
	st.Dispatch(evs...)

	sub, err := st.Subscribe(SubscribeOptions{LastSeenID: evs[2].EventID})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if sub.Gap() {
		t.Fatal("cursor still in ring, no gap expected")
	}

	got := collect(t, sub, 3)
	if got[0].EventID != evs[3].EventID {
		t.Fatal("catch-up did not start after the cursor")
	}
}

func TestSubscribeGap(t *testing.T) {
	st := newTestStream(t, Config{NumRecentEvents: 4})
	st.Dispatch(makeEvents(8)...)

	sub, err := st.Subscribe(SubscribeOptions{LastSeenID: "long-gone"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if !sub.Gap() {
		t.Fatal("stale cursor should be reported as a gap")
	}
}

func TestSubscribeFilter(t *testing.T) {
	st := newTestStream(t, Config{})
	sub, err := st.Subscribe(SubscribeOptions{
		Filter: func(ev *events.Event) bool { return ev.EventType == "keep" },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	st.Dispatch(
		events.New("s", events.SyntaxJSON, "app", "keep", nil),
		events.New("s", events.SyntaxJSON, "app", "drop", nil),
		events.New("s", events.SyntaxJSON, "app", "keep", nil),
	)

	got := collect(t, sub, 2)
	for _, ev := range got {
		if ev.EventType != "keep" {
			t.Fatalf("filtered event type %q delivered", ev.EventType)
		}
	}
}

func TestBufferedFlush(t *testing.T) {
	st := newTestStream(t, Config{BufferingTime: 30 * time.Millisecond})
	sub, err := st.Subscribe(SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	evs := makeEvents(3)
	for _, ev := range evs {
		st.Dispatch(ev)
	}

	select {
	case batch := <-sub.Events():
		// All three land in one window.
		if len(batch) != 3 {
			t.Fatalf("batch size = %d, want 3", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no flush within the buffering window")
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	st := New(Config{Path: "stop"})
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	sub, err := st.Subscribe(SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ev := events.New("s", events.SyntaxJSON, "app", "t", nil)
	st.Dispatch(ev)
	st.Stop()

	// The pending event is flushed before the channel closes.
	got := collect(t, sub, 1)
	if got[0].EventID != ev.EventID {
		t.Fatal("pending event lost at stop")
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel should be closed after stop")
	}

	if err := st.Dispatch(ev); !errors.Is(err, ErrStopped) {
		t.Fatalf("dispatch after stop = %v, want ErrStopped", err)
	}
	if _, err := st.Subscribe(SubscribeOptions{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("subscribe after stop = %v, want ErrStopped", err)
	}
}

func TestTap(t *testing.T) {
	st := newTestStream(t, Config{})
	var seen atomic.Int64
	st.AddTap(func(*events.Event) { seen.Add(1) })

	st.Dispatch(makeEvents(5)...)
	if got := seen.Load(); got != 5 {
		t.Fatalf("tap saw %d events, want 5", got)
	}
}

func TestHTTPPublishAndSubscribe(t *testing.T) {
	st := newTestStream(t, Config{Path: "events", AllowPublish: true})
	srv := NewServer(0)
	srv.AddStream(st)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	ev := events.New("veh-1", events.SyntaxJSON, "SmartDriver",
		"Vehicle Location", []byte(`{"Location":{"latitude":1,"longitude":2}}`))
	resp, err := http.Post(ts.URL+"/events", MediaType,
		bytes.NewReader(events.Serialize(ev)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d, want 200", resp.StatusCode)
	}

	recent := st.RecentEvents()
	if len(recent) != 1 || recent[0].EventID != ev.EventID {
		t.Fatal("published event not in the ring")
	}
}

func TestHTTPPublishDeflate(t *testing.T) {
	st := newTestStream(t, Config{Path: "events", AllowPublish: true})
	srv := NewServer(0)
	srv.AddStream(st)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	ev := events.New("veh-1", events.SyntaxJSON, "SmartDriver", "High Speed", nil)
	body, err := events.CompressDeflate(events.Serialize(ev))
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", MediaType)
	req.Header.Set("Content-Encoding", "deflate")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d, want 200", resp.StatusCode)
	}
	if len(st.RecentEvents()) != 1 {
		t.Fatal("deflated publish not dispatched")
	}
}

func TestHTTPPublishErrors(t *testing.T) {
	writable := newTestStream(t, Config{Path: "rw", AllowPublish: true})
	readonly := newTestStream(t, Config{Path: "ro"})
	srv := NewServer(0)
	srv.AddStream(writable)
	srv.AddStream(readonly)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	post := func(path, body string) int {
		resp, err := http.Post(ts.URL+path, MediaType, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post("/rw", "not an event"); got != http.StatusBadRequest {
		t.Fatalf("malformed publish = %d, want 400", got)
	}
	if got := post("/rw", ""); got != http.StatusBadRequest {
		t.Fatalf("empty publish = %d, want 400", got)
	}
	if got := post("/ro", ""); got != http.StatusMethodNotAllowed {
		t.Fatalf("read-only publish = %d, want 405", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/rw", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE = %d, want 405", resp.StatusCode)
	}

	stopped := New(Config{Path: "stopped", AllowPublish: true})
	stopped.Start()
	stopped.Stop()
	srv2 := NewServer(0)
	srv2.AddStreamWithResponder(stopped, nil)
	ts2 := httptest.NewServer(srv2.mux)
	defer ts2.Close()
	ev := events.New("s", events.SyntaxJSON, "app", "t", nil)
	resp, err = http.Post(ts2.URL+"/stopped", MediaType,
		bytes.NewReader(events.Serialize(ev)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("stopped publish = %d, want 503", resp.StatusCode)
	}
}

func TestHTTPSubscribeLongPoll(t *testing.T) {
	st := newTestStream(t, Config{Path: "events", AllowPublish: true})
	srv := NewServer(0)
	srv.AddStream(st)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != MediaType {
		t.Fatalf("Content-Type = %q, want %q", got, MediaType)
	}

	published := makeEvents(3)
	// Let the subscription register before publishing.
	time.Sleep(50 * time.Millisecond)
	st.Dispatch(published...)

	var d events.Deserializer
	var got []*events.Event
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			evs, derr := d.Consume(buf[:n])
			if derr != nil {
				t.Fatal(derr)
			}
			got = append(got, evs...)
		}
		if err != nil {
			break
		}
	}
	if len(got) != 3 {
		t.Fatalf("received %d events, want 3", len(got))
	}
	for i, ev := range got {
		if ev.EventID != published[i].EventID {
			t.Fatalf("event %d out of order", i)
		}
	}
}

func TestHTTPSubscribeGapMarker(t *testing.T) {
	st := newTestStream(t, Config{Path: "events", NumRecentEvents: 4, AllowPublish: true})
	st.Dispatch(makeEvents(8)...)
	srv := NewServer(0)
	srv.AddStream(st)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/stream?last_seen_id=evicted")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var d events.Deserializer
	var got []*events.Event
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			evs, derr := d.Consume(buf[:n])
			if derr != nil {
				t.Fatal(derr)
			}
			got = append(got, evs...)
		}
		if err != nil {
			break
		}
	}
	if len(got) == 0 || got[0].EventType != GapEventType {
		t.Fatalf("first event should be the gap marker, got %+v", got)
	}
}
