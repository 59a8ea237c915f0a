package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"driverstream/internal/events"
	"driverstream/internal/stats"
)

// Continuous publisher: buffers outbound events for at most the
// buffering window and POSTs each batch to a target stream URL as one
// request. A single request is outstanding at any time, preserving
// order. Failed batches retry with backoff; events are dropped only
// when the retry budget is exhausted or the bounded queue overflows.

// ErrPublisherFull is returned when the outbound queue is at capacity.
var ErrPublisherFull = errors.New("publisher queue full")

const (
	defaultPublisherQueue = 1024
	publisherRetryBudget  = 30 * time.Second
	publisherBackoff      = time.Second
)

// PublisherConfig configures a continuous publisher.
type PublisherConfig struct {
	// TargetURL is the publish endpoint of the destination stream.
	TargetURL string
	// BufferingTime is the maximum delay before a buffered batch is
	// sent. Zero sends as soon as the previous request finishes.
	BufferingTime time.Duration
	// QueueSize bounds buffered events. Defaults to 1024.
	QueueSize int
	// Compress deflates request bodies.
	Compress bool
	// Label names the publisher in logs and metrics. Defaults to the
	// target URL.
	Label string
}

// Publisher forwards events to a remote stream.
type Publisher struct {
	cfg   PublisherConfig
	queue chan *events.Event
	http  *http.Client
	done  chan struct{}
}

// NewPublisher creates a publisher. Call Run to start sending.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultPublisherQueue
	}
	if cfg.Label == "" {
		cfg.Label = cfg.TargetURL
	}
	return &Publisher{
		cfg:   cfg,
		queue: make(chan *events.Event, cfg.QueueSize),
		http:  &http.Client{Timeout: 30 * time.Second},
		done:  make(chan struct{}),
	}
}

// Publish queues one event. Returns ErrPublisherFull when the bounded
// queue is at capacity.
func (p *Publisher) Publish(ev *events.Event) error {
	select {
	case p.queue <- ev:
		return nil
	default:
		stats.EventsDropped.WithLabelValues(p.cfg.Label, "publisher_overflow").Inc()
		return ErrPublisherFull
	}
}

// PublishEvents queues a batch, stopping at the first overflow.
func (p *Publisher) PublishEvents(evs []*events.Event) error {
	for _, ev := range evs {
		if err := p.Publish(ev); err != nil {
			return err
		}
	}
	return nil
}

// Run sends batches until ctx is cancelled, then flushes what remains
// in the queue with a short grace period.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		batch := p.collectBatch(ctx)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.send(ctx, batch)
		if ctx.Err() != nil && len(p.queue) == 0 {
			return
		}
	}
}

// Done is closed when Run has returned.
func (p *Publisher) Done() <-chan struct{} { return p.done }

// collectBatch blocks for the first event, then gathers more until the
// buffering window elapses or the queue drains.
func (p *Publisher) collectBatch(ctx context.Context) []*events.Event {
	var batch []*events.Event

	select {
	case ev := <-p.queue:
		batch = append(batch, ev)
	case <-ctx.Done():
		// Drain without waiting.
		for {
			select {
			case ev := <-p.queue:
				batch = append(batch, ev)
			default:
				return batch
			}
		}
	}

	if p.cfg.BufferingTime <= 0 {
		for {
			select {
			case ev := <-p.queue:
				batch = append(batch, ev)
			default:
				return batch
			}
		}
	}

	window := time.NewTimer(p.cfg.BufferingTime)
	defer window.Stop()
	for {
		select {
		case ev := <-p.queue:
			batch = append(batch, ev)
		case <-window.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
}

// send POSTs one batch, retrying with backoff inside the retry budget.
// The batch is dropped once the budget is spent.
func (p *Publisher) send(ctx context.Context, batch []*events.Event) {
	data := events.SerializeAll(batch)
	deadline := time.Now().Add(publisherRetryBudget)
	backoff := publisherBackoff

	// At shutdown the batch still gets one delivery attempt.
	postCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		postCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	for {
		err := p.post(postCtx, data)
		if err == nil {
			return
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			stats.EventsDropped.WithLabelValues(p.cfg.Label, "retry_exhausted").
				Add(float64(len(batch)))
			slog.Error("batch dropped after retries",
				"target", p.cfg.TargetURL, "events", len(batch), "error", err)
			return
		}
		slog.Warn("batch post failed, retrying",
			"target", p.cfg.TargetURL, "events", len(batch), "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (p *Publisher) post(ctx context.Context, data []byte) error {
	body := data
	if p.cfg.Compress {
		compressed, err := events.CompressDeflate(data)
		if err != nil {
			return err
		}
		body = compressed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", MediaType)
	if p.cfg.Compress {
		req.Header.Set("Content-Encoding", "deflate")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("target returned %s", resp.Status)
	}
	return nil
}
