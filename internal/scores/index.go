// Package scores holds the spatial index of recent driver scores and
// the recency buffers used to gate scoring and road-info requests.
package scores

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"driverstream/internal/geo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const spatialIndexName = "boxes"

// row is the data record stored per entry.
type row struct {
	Lat        float64 `json:"lat"`
	Long       float64 `json:"long"`
	UserID     string  `json:"user"`
	Score      float64 `json:"score"`
	InsertedAt int64   `json:"inserted_at"` // unix nanos
}

// IndexOptions tune lookup behavior.
type IndexOptions struct {
	// Ordered makes lookups scan newest-first by insertion id.
	Ordered bool
	// AllowSameUser lets a lookup return the caller's own entries when
	// they are older than an hour. Intended for testing deployments
	// with a single driver.
	AllowSameUser bool
}

// Index is an in-memory spatial+temporal index of recent
// (location, user, score) tuples backed by a buntdb R-tree index over
// bounding boxes.
type Index struct {
	db           *buntdb.DB
	searchRadius float64
	ttl          time.Duration
	opts         IndexOptions
}

// NewIndex creates an index with the given search radius (meters) and
// entry TTL.
func NewIndex(searchRadius float64, ttl time.Duration, opts IndexOptions) (*Index, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("score index: %w", err)
	}
	if err := db.CreateSpatialIndex(spatialIndexName, "score:*:box", buntdb.IndexRect); err != nil {
		db.Close()
		return nil, fmt.Errorf("score index: %w", err)
	}
	return &Index{
		db:           db,
		searchRadius: searchRadius,
		ttl:          ttl,
		opts:         opts,
	}, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func boxKey(id uint64) string  { return fmt.Sprintf("score:%020d:box", id) }
func dataKey(id uint64) string { return fmt.Sprintf("score:%020d:data", id) }

func idFromKey(key string) (uint64, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Insert stores one tuple. The entry is indexed by the bounding box of
// the search radius around the location, so lookups reduce to point
// containment.
func (ix *Index) Insert(loc geo.Location, userID string, score float64) error {
	box := loc.BoundingBox(ix.searchRadius)
	data, err := json.Marshal(row{
		Lat:        loc.Lat,
		Long:       loc.Long,
		UserID:     userID,
		Score:      score,
		InsertedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	rect := fmt.Sprintf("[%.8f %.8f],[%.8f %.8f]",
		box.MinLat, box.MinLong, box.MaxLat, box.MaxLong)

	return ix.db.Update(func(tx *buntdb.Tx) error {
		id, err := nextID(tx)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(boxKey(id), rect, nil); err != nil {
			return err
		}
		_, _, err = tx.Set(dataKey(id), string(data), nil)
		return err
	})
}

// nextID allocates a monotonically increasing insertion id, persisted
// alongside the data so ids survive a Shrink.
func nextID(tx *buntdb.Tx) (uint64, error) {
	var id uint64 = 1
	if v, err := tx.Get("meta:next_id"); err == nil {
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			return 0, perr
		}
		id = n
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	if _, _, err := tx.Set("meta:next_id", strconv.FormatUint(id+1, 10), nil); err != nil {
		return 0, err
	}
	return id, nil
}

// Entry is a lookup result.
type Entry struct {
	Location geo.Location
	Score    float64
}

// Lookup returns the scores of other users whose indexed box contains
// the query point. Results are deduplicated per user (first match in
// scan order wins); with Ordered set, scan order is newest-first.
func (ix *Index) Lookup(point geo.Location, userID string) ([]Entry, error) {
	type match struct {
		id uint64
		r  row
	}
	var matches []match
	cutoff := time.Now().Add(-time.Hour).UnixNano()

	err := ix.db.View(func(tx *buntdb.Tx) error {
		var ids []uint64
		pointRect := fmt.Sprintf("[%.8f %.8f]", point.Lat, point.Long)
		if err := tx.Intersects(spatialIndexName, pointRect, func(key, _ string) bool {
			if id, ok := idFromKey(key); ok {
				ids = append(ids, id)
			}
			return true
		}); err != nil {
			return err
		}
		if ix.opts.Ordered {
			sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
		}
		for _, id := range ids {
			v, err := tx.Get(dataKey(id))
			if err == buntdb.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var r row
			if err := json.Unmarshal([]byte(v), &r); err != nil {
				return err
			}
			matches = append(matches, match{id: id, r: r})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []Entry
	seen := make(map[string]bool)
	for _, m := range matches {
		if m.r.UserID == userID {
			if !ix.opts.AllowSameUser || m.r.InsertedAt > cutoff {
				continue
			}
		}
		if seen[m.r.UserID] {
			continue
		}
		seen[m.r.UserID] = true
		out = append(out, Entry{
			Location: geo.Location{Lat: m.r.Lat, Long: m.r.Long},
			Score:    m.r.Score,
		})
	}
	return out, nil
}

// Roll bulk-deletes every entry older than the TTL.
func (ix *Index) Roll() error {
	cutoff := time.Now().Add(-ix.ttl).UnixNano()
	var expired []uint64

	err := ix.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("score:*:data", func(key, value string) bool {
			var r row
			if err := json.Unmarshal([]byte(value), &r); err != nil {
				return true
			}
			if r.InsertedAt < cutoff {
				if id, ok := idFromKey(key); ok {
					expired = append(expired, id)
				}
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	return ix.db.Update(func(tx *buntdb.Tx) error {
		for _, id := range expired {
			if _, err := tx.Delete(boxKey(id)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
			if _, err := tx.Delete(dataKey(id)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// Dump writes every entry to w, one line per tuple, for diagnostics.
func (ix *Index) Dump(w io.Writer) error {
	return ix.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("score:*:data", func(key, value string) bool {
			var r row
			if err := json.Unmarshal([]byte(value), &r); err != nil {
				return true
			}
			id, _ := idFromKey(key)
			fmt.Fprintf(w, "%d\t%s\t%.6f,%.6f\t%.1f\t%s\n",
				id, r.UserID, r.Lat, r.Long, r.Score,
				time.Unix(0, r.InsertedAt).Format(time.RFC3339))
			return true
		})
	})
}
