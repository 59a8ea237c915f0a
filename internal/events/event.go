// Package events defines the canonical event record and its wire
// codec. Events are immutable once published; derivation copies the
// identity fields and records the provenance in a header.
package events

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header names used on the wire and in ExtraHeaders.
const (
	HeaderDerivedFrom = "X-Derived-From"
)

// Media types for event bodies.
const (
	SyntaxJSON = "application/json"
)

// Event is one telemetry record. Body is opaque unless the owning
// stream is configured to parse it.
type Event struct {
	EventID       string
	SourceID      string
	Syntax        string
	Timestamp     string
	ApplicationID string
	EventType     string
	AggregatorIDs []string
	ExtraHeaders  map[string]string
	Body          []byte

	parsed map[string]interface{}
}

// New creates an event with a fresh random ID and the current time.
func New(sourceID, syntax, applicationID, eventType string, body []byte) *Event {
	return &Event{
		EventID:       uuid.NewString(),
		SourceID:      sourceID,
		Syntax:        syntax,
		Timestamp:     time.Now().Format(time.RFC3339),
		ApplicationID: applicationID,
		EventType:     eventType,
		Body:          body,
	}
}

// Derive creates a new event that inherits the identity fields of e
// and records e as its origin in the X-Derived-From header.
func Derive(e *Event, eventType string, body []byte) *Event {
	d := New(e.SourceID, e.Syntax, e.ApplicationID, eventType, body)
	d.AggregatorIDs = append([]string(nil), e.AggregatorIDs...)
	d.ExtraHeaders = map[string]string{HeaderDerivedFrom: e.EventID}
	return d
}

// Time parses the event timestamp. Returns the zero time when the
// timestamp is malformed.
func (e *Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParsedBody returns the event body decoded as a JSON object. The
// result is cached; events whose body is not a JSON object return nil.
func (e *Event) ParsedBody() map[string]interface{} {
	if e.parsed != nil {
		return e.parsed
	}
	if len(e.Body) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(e.Body, &m); err != nil {
		return nil
	}
	e.parsed = m
	return m
}

// LocationBody extracts the Location payload carried by Vehicle
// Location events: latitude, longitude and the driver score.
func (e *Event) LocationBody() (lat, long, score float64, ok bool) {
	body := e.ParsedBody()
	if body == nil {
		return 0, 0, 0, false
	}
	loc, okLoc := body["Location"].(map[string]interface{})
	if !okLoc {
		return 0, 0, 0, false
	}
	lat, okLat := toFloat(loc["latitude"])
	long, okLong := toFloat(loc["longitude"])
	if !okLat || !okLong {
		return 0, 0, 0, false
	}
	score, _ = toFloat(loc["score"])
	return lat, long, score, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
