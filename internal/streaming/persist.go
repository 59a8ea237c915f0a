package streaming

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"driverstream/internal/events"
	"driverstream/internal/stats"
)

// Persistence appends serialized events to one file per stream. Writes
// happen off the publish path; a failed append is logged and counted
// but never affects delivery.

func persistFileName(dir, path string) string {
	name := strings.ReplaceAll(path, "/", "-") + ".events"
	return filepath.Join(dir, name)
}

type persistLog struct {
	label string
	f     *os.File
	ch    chan []byte
	done  chan struct{}
}

func openPersistLog(dir, path, label string) (*persistLog, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("event log dir: %w", err)
	}
	f, err := os.OpenFile(persistFileName(dir, path),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	l := &persistLog{
		label: label,
		f:     f,
		ch:    make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *persistLog) run() {
	for data := range l.ch {
		if _, err := l.f.Write(data); err != nil {
			stats.PersistenceErrors.WithLabelValues(l.label).Inc()
			slog.Error("event log append failed",
				"stream", l.label, "error", err)
		}
	}
	l.f.Close()
	close(l.done)
}

// append queues data for writing. A full queue drops the write rather
// than stalling the publish path.
func (l *persistLog) append(data []byte) {
	select {
	case l.ch <- data:
	default:
		stats.PersistenceErrors.WithLabelValues(l.label).Inc()
		slog.Warn("event log queue full, write skipped", "stream", l.label)
	}
}

func (l *persistLog) close() {
	close(l.ch)
	<-l.done
}

// ReadPersisted loads the events previously appended for a stream,
// oldest first. A truncated tail (from an interrupted write) is
// tolerated: complete events before it are returned.
func ReadPersisted(dir, path string) ([]*events.Event, error) {
	if dir == "" {
		dir = "."
	}
	data, err := os.ReadFile(persistFileName(dir, path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d events.Deserializer
	evs, err := d.Consume(data)
	if err != nil {
		slog.Warn("event log partially unreadable",
			"path", path, "recovered", len(evs), "error", err)
	}
	return evs, nil
}
