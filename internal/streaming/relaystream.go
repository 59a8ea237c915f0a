package streaming

import (
	"context"

	"driverstream/internal/events"
)

// RelayStream is a stream whose events come from subscribing to other
// streams. Incoming events pass an optional filter and are stamped
// with the relay's label in their aggregator chain before dispatch.
type RelayStream struct {
	*Stream
	client *Client
	filter func(*events.Event) bool
}

// NewRelayStream builds a relay over the given upstream URLs. The
// relay requests missing events on reconnect using its label.
func NewRelayStream(cfg Config, upstreams []string, filter func(*events.Event) bool, disableCompression bool) *RelayStream {
	cfg.AllowPublish = false
	rs := &RelayStream{
		Stream: New(cfg),
		filter: filter,
	}
	rs.client = NewClient(ClientConfig{
		URLs:               upstreams,
		Label:              rs.Label(),
		RetrieveMissing:    true,
		DisableCompression: disableCompression,
	}, rs.ingest)
	return rs
}

func (rs *RelayStream) ingest(evs []*events.Event) {
	out := make([]*events.Event, 0, len(evs))
	for _, ev := range evs {
		if rs.filter != nil && !rs.filter(ev) {
			continue
		}
		ev.AggregatorIDs = append(ev.AggregatorIDs, rs.Label())
		out = append(out, ev)
	}
	if len(out) > 0 {
		rs.Dispatch(out...)
	}
}

// Run starts the stream and consumes upstreams until ctx is done.
func (rs *RelayStream) Run(ctx context.Context) error {
	if err := rs.Start(); err != nil {
		return err
	}
	return rs.client.Run(ctx)
}
