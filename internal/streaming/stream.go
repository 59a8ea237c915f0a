// Package streaming implements the stream node and its relay fabric:
// the append-only publish path, buffered dispatch to subscribers, the
// recent-events ring, local taps, the remote relay client and the
// continuous publisher.
package streaming

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"driverstream/internal/events"
	"driverstream/internal/stats"
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("stream stopped")

// GapEventType marks the synthetic event a stream emits when a
// subscriber's last seen id predates the ring. Clients drop their
// cursor on seeing it.
const GapEventType = "Stream-Gap"

// Maximum events queued per subscriber between flushes.
const maxPendingPerSubscriber = DefaultRingSize

// Config describes one stream node.
type Config struct {
	// Path identifies the stream in URLs.
	Path string
	// Label names the stream in logs and metrics. Defaults to Path.
	Label string
	// NumRecentEvents bounds the ring. Defaults to DefaultRingSize.
	NumRecentEvents int
	// BufferingTime is the maximum delay before queued events are
	// flushed to a subscriber. Zero disables batching.
	BufferingTime time.Duration
	// AllowPublish permits external publishes over HTTP. Relay-fed
	// streams keep it off.
	AllowPublish bool
	// ParseBody eagerly parses JSON event bodies on ingestion.
	ParseBody bool
	// PersistEvents appends accepted events to a log under PersistDir.
	PersistEvents bool
	PersistDir    string
}

// Stream is an append-only publish/subscribe node.
type Stream struct {
	cfg   Config
	label string

	mu      sync.Mutex
	ring    *Ring
	subs    map[*Subscription]struct{}
	taps    []func(*events.Event)
	stopped bool

	persist *persistLog
	arrival ArrivalRecorder

	flushDone chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// ArrivalRecorder receives every accepted event, for latency studies.
type ArrivalRecorder interface {
	Record(ev *events.Event)
}

// New creates a stream node. Call Start before publishing.
func New(cfg Config) *Stream {
	label := cfg.Label
	if label == "" {
		label = cfg.Path
	}
	return &Stream{
		cfg:       cfg,
		label:     label,
		ring:      NewRing(cfg.NumRecentEvents),
		subs:      make(map[*Subscription]struct{}),
		flushDone: make(chan struct{}),
	}
}

// Path returns the URL path identifying the stream.
func (s *Stream) Path() string { return s.cfg.Path }

// Label returns the log/metric label.
func (s *Stream) Label() string { return s.label }

// Config returns the stream configuration.
func (s *Stream) Config() Config { return s.cfg }

// SetArrivalRecorder attaches an arrival log. Must be called before
// Start.
func (s *Stream) SetArrivalRecorder(r ArrivalRecorder) { s.arrival = r }

// Start opens persistence, preloads the ring from the event log and
// launches the flush loop.
func (s *Stream) Start() error {
	var err error
	s.startOnce.Do(func() {
		if s.cfg.PersistEvents {
			preloaded, loadErr := ReadPersisted(s.cfg.PersistDir, s.cfg.Path)
			if loadErr != nil {
				slog.Warn("event log preload failed",
					"stream", s.label, "error", loadErr)
			} else if len(preloaded) > 0 {
				s.ring.Add(preloaded...)
				slog.Info("ring preloaded from event log",
					"stream", s.label, "events", len(preloaded))
			}
			s.persist, err = openPersistLog(s.cfg.PersistDir, s.cfg.Path, s.label)
			if err != nil {
				return
			}
		}
		go s.flushLoop()
	})
	return err
}

// Stop drains subscriber buffers, closes all subscriptions and rejects
// further publishes.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.flushAll()
		s.mu.Lock()
		s.stopped = true
		for sub := range s.subs {
			sub.closeLocked()
			delete(s.subs, sub)
		}
		s.mu.Unlock()
		close(s.flushDone)
		if s.persist != nil {
			s.persist.close()
		}
		slog.Info("stream stopped", "stream", s.label)
	})
}

// Dispatch appends events to the ring and enqueues them for every
// subscriber. The batch is appended atomically: all subscribers see
// the events in the same relative order.
func (s *Stream) Dispatch(evs ...*events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	if s.cfg.ParseBody {
		for _, ev := range evs {
			if ev.Syntax == events.SyntaxJSON {
				ev.ParsedBody()
			}
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.ring.Add(evs...)
	for sub := range s.subs {
		sub.enqueueLocked(evs)
	}
	taps := s.taps
	s.mu.Unlock()

	stats.EventsPublished.WithLabelValues(s.label).Add(float64(len(evs)))

	if s.arrival != nil {
		for _, ev := range evs {
			s.arrival.Record(ev)
		}
	}
	for _, tap := range taps {
		for _, ev := range evs {
			tap(ev)
		}
	}
	if s.persist != nil {
		s.persist.append(events.SerializeAll(evs))
	}
	if s.cfg.BufferingTime == 0 {
		s.flushAll()
	}
	return nil
}

// AddTap registers an in-process callback invoked for every accepted
// event. Taps must not block; they run on the publisher's goroutine.
func (s *Stream) AddTap(fn func(*events.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, fn)
}

// SubscribeOptions configure one streaming consumer.
type SubscribeOptions struct {
	// Label identifies the client for gap recovery logging.
	Label string
	// LastSeenID seeks into the ring; events since that id are
	// delivered first. An id no longer in the ring marks the
	// subscription as gapped.
	LastSeenID string
	// Filter drops events for which it returns false. Nil keeps all.
	Filter func(*events.Event) bool
}

// Subscription is one registered consumer. Batches of events arrive on
// Events in publication order; the channel closes when the stream
// stops or the subscription is closed.
type Subscription struct {
	stream  *Stream
	opts    SubscribeOptions
	pending []*events.Event
	dropped int
	ch      chan []*events.Event
	gap     bool
	closed  bool
}

// Subscribe registers a consumer.
func (s *Stream) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	sub := &Subscription{
		stream: s,
		opts:   opts,
		ch:     make(chan []*events.Event, 32),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	if opts.LastSeenID != "" {
		missed, found := s.ring.Since(opts.LastSeenID)
		if found {
			// Catch-up events are delivered right away, not on the
			// next buffering tick.
			sub.enqueueLocked(missed)
			sub.flushLocked()
		} else {
			sub.gap = true
		}
	}
	s.subs[sub] = struct{}{}
	stats.SubscribersActive.WithLabelValues(s.label).Inc()
	slog.Debug("subscriber registered",
		"stream", s.label, "label", opts.Label,
		"last_seen", opts.LastSeenID, "gap", sub.gap)
	return sub, nil
}

// Events returns the delivery channel.
func (sub *Subscription) Events() <-chan []*events.Event { return sub.ch }

// Gap reports whether the requested LastSeenID predated the ring.
func (sub *Subscription) Gap() bool { return sub.gap }

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() {
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		sub.closeLocked()
	}
}

func (sub *Subscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.flushLocked()
	sub.closed = true
	close(sub.ch)
	stats.SubscribersActive.WithLabelValues(sub.stream.label).Dec()
}

// enqueueLocked queues events for the next flush. Called with the
// stream mutex held.
func (sub *Subscription) enqueueLocked(evs []*events.Event) {
	for _, ev := range evs {
		if sub.opts.Filter != nil && !sub.opts.Filter(ev) {
			continue
		}
		if len(sub.pending) >= maxPendingPerSubscriber {
			sub.pending = sub.pending[1:]
			sub.dropped++
		}
		sub.pending = append(sub.pending, ev)
	}
}

// flushLocked hands the pending batch to the delivery channel. A full
// channel drops the batch; the consumer recovers via LastSeenID.
func (sub *Subscription) flushLocked() {
	if len(sub.pending) == 0 {
		return
	}
	batch := sub.pending
	sub.pending = nil
	if sub.dropped > 0 {
		stats.EventsDropped.WithLabelValues(sub.stream.label, "pending_overflow").
			Add(float64(sub.dropped))
		sub.dropped = 0
	}
	if sub.closed {
		return
	}
	select {
	case sub.ch <- batch:
		stats.EventsDelivered.WithLabelValues(sub.stream.label).
			Add(float64(len(batch)))
	default:
		stats.EventsDropped.WithLabelValues(sub.stream.label, "slow_consumer").
			Add(float64(len(batch)))
	}
}

// flushLoop drives buffered dispatch: each subscriber is flushed at
// most once per buffering window.
func (s *Stream) flushLoop() {
	interval := s.cfg.BufferingTime
	if interval == 0 {
		// Immediate mode; Dispatch flushes directly.
		<-s.flushDone
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flushAll()
		case <-s.flushDone:
			return
		}
	}
}

func (s *Stream) flushAll() {
	start := time.Now()
	s.mu.Lock()
	for sub := range s.subs {
		sub.flushLocked()
	}
	s.mu.Unlock()
	stats.FlushDuration.WithLabelValues(s.label).
		Observe(time.Since(start).Seconds())
}

// RecentEvents returns a copy of the ring contents, oldest first.
func (s *Stream) RecentEvents() []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Events()
}
