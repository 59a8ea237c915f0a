package streaming

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"driverstream/internal/events"
	"driverstream/internal/stats"
)

// Relay client: opens long-lived streaming connections to upstream
// stream URLs, deserializes events incrementally and hands them to a
// local callback. On connection loss it reconnects with exponential
// backoff and, when a client label is set, asks the upstream for the
// events missed since its last seen id.

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URLs are the upstream stream endpoints.
	URLs []string
	// Label identifies this client to upstreams for gap recovery.
	Label string
	// RetrieveMissing requests events since the last seen id on
	// reconnect.
	RetrieveMissing bool
	// DisableCompression turns off deflate negotiation.
	DisableCompression bool
}

// Client consumes one or more upstream streams.
type Client struct {
	cfg     ClientConfig
	handler func([]*events.Event)
	http    *http.Client

	mu       sync.Mutex
	lastSeen map[string]string // upstream URL -> last seen event id
}

// NewClient creates a relay client delivering batches to handler.
func NewClient(cfg ClientConfig, handler func([]*events.Event)) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		// No overall timeout: subscriptions are long-lived by design.
		http:     &http.Client{},
		lastSeen: make(map[string]string),
	}
}

// Run consumes every configured upstream until ctx is done. Each
// upstream reconnects independently; Run only returns on cancellation.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range c.cfg.URLs {
		u := u
		g.Go(func() error {
			c.consumeLoop(ctx, u)
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) consumeLoop(ctx context.Context, upstream string) {
	backoff := initialBackoff
	for {
		received, err := c.readStream(ctx, upstream)
		if ctx.Err() != nil {
			return
		}
		if received > 0 {
			backoff = initialBackoff
		}
		if err != nil {
			slog.Warn("upstream connection lost",
				"url", upstream, "events", received, "error", err)
		}
		stats.RelayReconnects.WithLabelValues(upstream).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// readStream holds one streaming connection open, consuming events
// until the connection drops or ctx is cancelled.
func (c *Client) readStream(ctx context.Context, upstream string) (int, error) {
	reqURL, err := c.buildURL(upstream)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}
	if !c.cfg.DisableCompression {
		req.Header.Set("Accept-Encoding", "deflate")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("upstream returned %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "deflate" {
		fr := events.DeflateReader(resp.Body)
		defer fr.Close()
		body = fr
	}

	slog.Info("upstream connected", "url", upstream, "label", c.cfg.Label)

	var d events.Deserializer
	received := 0
	buf := make([]byte, 16*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			evs, err := d.Consume(buf[:n])
			if err != nil {
				return received, err
			}
			if len(evs) > 0 {
				received += c.deliver(upstream, evs)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return received, nil
			}
			return received, readErr
		}
	}
}

// deliver filters gap markers, records the cursor and invokes the
// handler. Returns the number of real events delivered.
func (c *Client) deliver(upstream string, evs []*events.Event) int {
	out := evs[:0]
	for _, ev := range evs {
		if ev.EventType == GapEventType {
			// The upstream no longer holds our last seen id; restart
			// from the live stream.
			slog.Warn("gap reported by upstream", "url", upstream)
			c.mu.Lock()
			delete(c.lastSeen, upstream)
			c.mu.Unlock()
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return 0
	}
	c.mu.Lock()
	c.lastSeen[upstream] = out[len(out)-1].EventID
	c.mu.Unlock()
	c.handler(out)
	return len(out)
}

func (c *Client) buildURL(upstream string) (string, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return "", fmt.Errorf("upstream url: %w", err)
	}
	q := u.Query()
	if c.cfg.Label != "" {
		q.Set("label", c.cfg.Label)
	}
	if c.cfg.RetrieveMissing {
		c.mu.Lock()
		last := c.lastSeen[upstream]
		c.mu.Unlock()
		if last != "" {
			q.Set("last_seen_id", last)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
