package streaming

import (
	"testing"

	"driverstream/internal/events"
)

func TestEventTypeRelays(t *testing.T) {
	parent := newTestStream(t, Config{Path: "collector"})
	relays := NewEventTypeRelays(parent, "SmartDriver",
		[]string{"Vehicle Location", "High Speed"}, 0)
	for _, st := range relays.Streams() {
		if err := st.Start(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(st.Stop)
	}

	loc := relays.Stream("Vehicle Location")
	if loc == nil {
		t.Fatal("missing sub-stream")
	}
	if loc.Path() != "collector/type/VehicleLocation" {
		t.Fatalf("sub-stream path = %q", loc.Path())
	}
	if loc.Config().AllowPublish {
		t.Fatal("sub-streams must be read-only")
	}

	parent.Dispatch(
		events.New("v1", events.SyntaxJSON, "SmartDriver", "Vehicle Location", nil),
		events.New("v1", events.SyntaxJSON, "SmartDriver", "High Speed", nil),
		events.New("v1", events.SyntaxJSON, "SmartDriver", "Data Section", nil),
		events.New("w1", events.SyntaxJSON, "OtherApp", "Vehicle Location", nil),
	)

	if got := len(loc.RecentEvents()); got != 1 {
		t.Fatalf("Vehicle Location sub-stream holds %d events, want 1", got)
	}
	if got := len(relays.Stream("High Speed").RecentEvents()); got != 1 {
		t.Fatalf("High Speed sub-stream holds %d events, want 1", got)
	}
	if relays.Stream("Data Section") != nil {
		t.Fatal("unconfigured type should have no sub-stream")
	}
}
