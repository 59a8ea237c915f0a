package events

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire format: a header block of "Name: value" lines terminated by an
// empty line, followed by exactly Content-Length body bytes. Events
// are concatenated back to back on the wire.

const (
	headerEventID       = "Event-Id"
	headerSourceID      = "Source-Id"
	headerSyntax        = "Syntax"
	headerTimestamp     = "Timestamp"
	headerApplicationID = "Application-Id"
	headerEventType     = "Event-Type"
	headerAggregatorIDs = "Aggregator-Ids"
	headerContentLength = "Content-Length"
)

// ErrMalformedEvent is returned when a frame cannot be parsed.
var ErrMalformedEvent = errors.New("malformed event")

// Serialize renders the event in wire format.
func Serialize(e *Event) []byte {
	var b bytes.Buffer
	writeHeader(&b, headerEventID, e.EventID)
	writeHeader(&b, headerSourceID, e.SourceID)
	writeHeader(&b, headerSyntax, e.Syntax)
	writeHeader(&b, headerTimestamp, e.Timestamp)
	if e.ApplicationID != "" {
		writeHeader(&b, headerApplicationID, e.ApplicationID)
	}
	if e.EventType != "" {
		writeHeader(&b, headerEventType, e.EventType)
	}
	if len(e.AggregatorIDs) > 0 {
		writeHeader(&b, headerAggregatorIDs, strings.Join(e.AggregatorIDs, ","))
	}
	for name, value := range e.ExtraHeaders {
		writeHeader(&b, name, value)
	}
	writeHeader(&b, headerContentLength, strconv.Itoa(len(e.Body)))
	b.WriteByte('\n')
	b.Write(e.Body)
	return b.Bytes()
}

// SerializeAll renders a batch of events back to back.
func SerializeAll(evs []*Event) []byte {
	var b bytes.Buffer
	for _, e := range evs {
		b.Write(Serialize(e))
	}
	return b.Bytes()
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

// Deserializer incrementally parses a wire stream that may arrive in
// arbitrary chunks, as read from a streaming HTTP response.
type Deserializer struct {
	buf []byte
}

// Consume appends data to the internal buffer and returns every
// complete event available so far. A partial trailing event stays
// buffered for the next call.
func (d *Deserializer) Consume(data []byte) ([]*Event, error) {
	d.buf = append(d.buf, data...)
	var out []*Event
	for {
		ev, n, err := parseOne(d.buf)
		if err != nil {
			d.buf = nil
			return out, err
		}
		if ev == nil {
			return out, nil
		}
		out = append(out, ev)
		d.buf = d.buf[n:]
	}
}

// Pending reports whether a partial event remains buffered.
func (d *Deserializer) Pending() bool {
	return len(d.buf) > 0
}

// Deserialize parses a complete buffer of serialized events. Trailing
// partial data is an error.
func Deserialize(data []byte) ([]*Event, error) {
	var d Deserializer
	evs, err := d.Consume(data)
	if err != nil {
		return nil, err
	}
	if d.Pending() {
		return nil, fmt.Errorf("%w: truncated frame", ErrMalformedEvent)
	}
	return evs, nil
}

// parseOne attempts to parse one event from the head of buf. Returns
// (nil, 0, nil) when more data is needed.
func parseOne(buf []byte) (*Event, int, error) {
	end := bytes.Index(buf, []byte("\n\n"))
	if end < 0 {
		// No complete header block yet. Bound the wait so a stream of
		// garbage cannot grow the buffer forever.
		if len(buf) > 64*1024 {
			return nil, 0, fmt.Errorf("%w: header block too large", ErrMalformedEvent)
		}
		return nil, 0, nil
	}

	ev := &Event{}
	contentLength := -1
	for _, line := range bytes.Split(buf[:end], []byte("\n")) {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			return nil, 0, fmt.Errorf("%w: header line %q", ErrMalformedEvent, line)
		}
		v := string(bytes.TrimSpace(value))
		switch string(name) {
		case headerEventID:
			ev.EventID = v
		case headerSourceID:
			ev.SourceID = v
		case headerSyntax:
			ev.Syntax = v
		case headerTimestamp:
			ev.Timestamp = v
		case headerApplicationID:
			ev.ApplicationID = v
		case headerEventType:
			ev.EventType = v
		case headerAggregatorIDs:
			if v != "" {
				ev.AggregatorIDs = strings.Split(v, ",")
			}
		case headerContentLength:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, 0, fmt.Errorf("%w: content length %q", ErrMalformedEvent, v)
			}
			contentLength = n
		default:
			if ev.ExtraHeaders == nil {
				ev.ExtraHeaders = make(map[string]string)
			}
			ev.ExtraHeaders[string(name)] = v
		}
	}
	if contentLength < 0 {
		return nil, 0, fmt.Errorf("%w: missing Content-Length", ErrMalformedEvent)
	}
	if ev.EventID == "" {
		return nil, 0, fmt.Errorf("%w: missing Event-Id", ErrMalformedEvent)
	}

	total := end + 2 + contentLength
	if len(buf) < total {
		return nil, 0, nil
	}
	if contentLength > 0 {
		ev.Body = append([]byte(nil), buf[end+2:total]...)
	}
	return ev, total, nil
}
