package events

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ev := New("driver-17", SyntaxJSON, "SmartDriver", "Vehicle Location",
		[]byte(`{"Location":{"latitude":40.4,"longitude":-3.7,"score":600}}`))
	ev.AggregatorIDs = []string{"node-a", "node-b"}

	data := Serialize(ev)
	out, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 event, got %d", len(out))
	}
	got := out[0]
	if got.EventID != ev.EventID || got.SourceID != ev.SourceID ||
		got.ApplicationID != ev.ApplicationID || got.EventType != ev.EventType {
		t.Errorf("identity fields mangled: %+v", got)
	}
	if got.Timestamp != ev.Timestamp {
		t.Errorf("timestamp mangled: %q != %q", got.Timestamp, ev.Timestamp)
	}
	if len(got.AggregatorIDs) != 2 || got.AggregatorIDs[1] != "node-b" {
		t.Errorf("aggregator ids mangled: %v", got.AggregatorIDs)
	}
	if !bytes.Equal(got.Body, ev.Body) {
		t.Errorf("body mangled: %q", got.Body)
	}
}

func TestDeserializerIncremental(t *testing.T) {
	evs := []*Event{
		New("s1", SyntaxJSON, "SmartDriver", "High Speed", []byte(`{"speed":140}`)),
		New("s2", SyntaxJSON, "SmartDriver", "", nil),
		New("s3", SyntaxJSON, "SmartDriver", "Data Section", []byte(`{"n":3}`)),
	}
	data := SerializeAll(evs)

	// Feed one byte at a time; every event must come out exactly once,
	// in order.
	var d Deserializer
	var got []*Event
	for i := 0; i < len(data); i++ {
		out, err := d.Consume(data[i : i+1])
		if err != nil {
			t.Fatalf("consume at byte %d: %v", i, err)
		}
		got = append(got, out...)
	}
	if d.Pending() {
		t.Error("deserializer left partial data after full input")
	}
	if len(got) != len(evs) {
		t.Fatalf("expected %d events, got %d", len(evs), len(got))
	}
	for i := range evs {
		if got[i].EventID != evs[i].EventID {
			t.Errorf("event %d out of order: %s != %s", i, got[i].EventID, evs[i].EventID)
		}
	}
}

func TestDeserializeMalformed(t *testing.T) {
	cases := []string{
		"not a header block\n\n",
		"Event-Id: abc\nContent-Length: banana\n\n",
		"Event-Id: abc\nContent-Length: -4\n\n",
		"Content-Length: 0\n\n", // missing Event-Id
	}
	for _, c := range cases {
		if _, err := Deserialize([]byte(c)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("input %q: expected ErrMalformedEvent, got %v", c, err)
		}
	}
}

func TestDeserializeTruncated(t *testing.T) {
	ev := New("s1", SyntaxJSON, "SmartDriver", "", []byte("0123456789"))
	data := Serialize(ev)
	if _, err := Deserialize(data[:len(data)-3]); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("expected truncation error, got %v", err)
	}
}

func TestDeriveRecordsOrigin(t *testing.T) {
	src := New("driver-1", SyntaxJSON, "SmartDriver", "Vehicle Location", []byte("{}"))
	src.AggregatorIDs = []string{"node-a"}

	d := Derive(src, "Annotated Location", []byte(`{"x":1}`))
	if d.EventID == src.EventID {
		t.Error("derived event must have a fresh id")
	}
	if d.SourceID != src.SourceID || d.ApplicationID != src.ApplicationID {
		t.Error("derived event must keep identity fields")
	}
	if d.ExtraHeaders[HeaderDerivedFrom] != src.EventID {
		t.Errorf("missing derivation header: %v", d.ExtraHeaders)
	}

	// The header must survive the wire.
	out, err := Deserialize(Serialize(d))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if out[0].ExtraHeaders[HeaderDerivedFrom] != src.EventID {
		t.Errorf("derivation header lost on the wire: %v", out[0].ExtraHeaders)
	}
}

func TestLocationBody(t *testing.T) {
	ev := New("driver-1", SyntaxJSON, "SmartDriver", "Vehicle Location",
		[]byte(`{"Location":{"latitude":40.4,"longitude":-3.7,"score":600}}`))
	lat, long, score, ok := ev.LocationBody()
	if !ok {
		t.Fatal("expected a location body")
	}
	if lat != 40.4 || long != -3.7 || score != 600 {
		t.Errorf("wrong values: %f %f %f", lat, long, score)
	}

	noLoc := New("driver-1", SyntaxJSON, "SmartDriver", "High Speed", []byte(`{"speed":1}`))
	if _, _, _, ok := noLoc.LocationBody(); ok {
		t.Error("event without Location must not parse")
	}
	empty := New("driver-1", SyntaxJSON, "SmartDriver", "Vehicle Location", nil)
	if _, _, _, ok := empty.LocationBody(); ok {
		t.Error("empty body must not parse")
	}
}

func TestDeflateRoundTrip(t *testing.T) {
	data := SerializeAll([]*Event{
		New("s1", SyntaxJSON, "SmartDriver", "Vehicle Location", []byte(`{"a":1}`)),
	})
	compressed, err := CompressDeflate(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	r := DeflateReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("deflate round trip mangled data")
	}
}
