// Package latest stores the most recent event per source, serving the
// last-known-data REST endpoints. Two backends exist: an in-memory map
// (default) and Redis for deployments where several REST servers share
// state.
package latest

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Store is the backend interface for latest-event storage. Values are
// serialized events.
type Store interface {
	// Get retrieves the latest value for a source.
	// Returns (value, found, error).
	Get(ctx context.Context, sourceID string) ([]byte, bool, error)

	// Set stores the latest value for a source with the given TTL
	// (zero means no expiry).
	Set(ctx context.Context, sourceID string, value []byte, ttl time.Duration) error

	// Close releases the backend.
	Close() error
}

// Open selects a backend from the environment: LATEST_BACKEND=redis
// uses Redis at REDIS_URL, anything else the in-memory store. The
// prefix namespaces keys per application family.
func Open(prefix string) (Store, error) {
	if os.Getenv("LATEST_BACKEND") == "redis" {
		url := os.Getenv("REDIS_URL")
		if url == "" {
			return nil, fmt.Errorf("latest store: REDIS_URL not set")
		}
		return NewRedisStore(url, prefix)
	}
	return NewMemoryStore(), nil
}
