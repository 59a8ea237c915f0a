package streaming

import (
	"strings"
	"time"

	"driverstream/internal/events"
)

// EventTypeRelays taps a parent stream and republishes every matching
// event on a read-only per-type sub-stream at
// <parent>/type/<event_type_without_spaces>.
type EventTypeRelays struct {
	applicationID string
	relays        map[string]*Stream
}

// NewEventTypeRelays builds the sub-streams and registers the tap on
// the parent.
func NewEventTypeRelays(parent *Stream, applicationID string, eventTypes []string, bufferingTime time.Duration) *EventTypeRelays {
	r := &EventTypeRelays{
		applicationID: applicationID,
		relays:        make(map[string]*Stream, len(eventTypes)),
	}
	for _, et := range eventTypes {
		path := parent.Path() + "/type/" + strings.ReplaceAll(et, " ", "")
		r.relays[et] = New(Config{
			Path:          path,
			BufferingTime: bufferingTime,
			AllowPublish:  false,
		})
	}
	parent.AddTap(r.process)
	return r
}

func (r *EventTypeRelays) process(ev *events.Event) {
	if ev.ApplicationID != r.applicationID {
		return
	}
	if relay, ok := r.relays[ev.EventType]; ok {
		// Sub-streams never reject: they are not publishable over
		// HTTP and stop together with the parent.
		relay.Dispatch(ev)
	}
}

// Streams returns the per-type sub-streams for server registration.
func (r *EventTypeRelays) Streams() []*Stream {
	out := make([]*Stream, 0, len(r.relays))
	for _, st := range r.relays {
		out = append(out, st)
	}
	return out
}

// Stream returns the sub-stream for one event type, if configured.
func (r *EventTypeRelays) Stream(eventType string) *Stream {
	return r.relays[eventType]
}
