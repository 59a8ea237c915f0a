package stats

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"driverstream/internal/events"
)

// ArrivalLog appends one line per accepted event with its local
// arrival time in nanoseconds, for delivery latency studies. It
// satisfies the stream's arrival recorder hook.
type ArrivalLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenArrivalLog opens (appending) the arrival log at path.
func OpenArrivalLog(path string) (*ArrivalLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("arrival log: %w", err)
	}
	return &ArrivalLog{f: f}, nil
}

// Record appends the event id and arrival timestamp.
func (l *ArrivalLog) Record(ev *events.Event) {
	line := fmt.Sprintf("%s\t%d\n", ev.EventID, time.Now().UnixNano())
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(line); err != nil {
		slog.Error("arrival log write failed", "error", err)
	}
}

// Close flushes and closes the log file.
func (l *ArrivalLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
