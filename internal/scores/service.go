package scores

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"driverstream/internal/geo"
	"driverstream/internal/util"
)

// Distance thresholds of the two recency gates, in meters.
const (
	ShortGateDistance = 10.0
	LongGateDistance  = 300.0
)

// Response markers emitted by the driver-scores endpoint. Each header
// line carries the previously recorded location when one is relevant.
const (
	markerNoMovement   = "#*"
	markerRoadInfoOnly = "#i"
	markerScoring      = "#+"
)

// Maximum nearby score lines per response.
const maxCloseScores = 10

// Service implements the driver-scores REST surface on top of the
// score index and the two recency gates.
type Service struct {
	index *Index
	short *RecencyBuffer[geo.Location]
	long  *RecencyBuffer[geo.Location]
}

// NewService creates the service around an index.
func NewService(index *Index) *Service {
	return &Service{
		index: index,
		short: NewRecencyBuffer[geo.Location](),
		long:  NewRecencyBuffer[geo.Location](),
	}
}

// Index exposes the underlying score index.
func (s *Service) Index() *Index { return s.index }

// Run drives the periodic maintenance: the recency buffers roll on
// their own cadence and the index expires old entries. Blocks until
// ctx is done.
func (s *Service) Run(ctx context.Context, bufferRoll, indexRoll time.Duration) {
	bufTicker := time.NewTicker(bufferRoll)
	defer bufTicker.Stop()
	idxTicker := time.NewTicker(indexRoll)
	defer idxTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bufTicker.C:
			s.short.Roll()
			s.long.Roll()
			slog.Debug("recency buffers rolled",
				"short", s.short.Len(), "long", s.long.Len())
		case <-idxTicker.C:
			if err := s.index.Roll(); err != nil {
				slog.Error("score index roll failed", "error", err)
			}
		}
	}
}

// HandleDriverScores serves GET /driver_scores.
//
// Two-stage gating: a user who moved less than 10 m gets "#*" and no
// scoring; one who moved at least 10 m but less than 300 m gets
// "#i<prev>" (road info still relevant); otherwise "#+<prev>" followed
// by up to ten nearby anonymous scores, and the new tuple is inserted.
func (s *Service) HandleDriverScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user")
	lat, errLat := strconv.ParseFloat(q.Get("latitude"), 64)
	long, errLong := strconv.ParseFloat(q.Get("longitude"), 64)
	score, errScore := strconv.ParseFloat(q.Get("score"), 64)
	if userID == "" || errLat != nil || errLong != nil || errScore != nil {
		util.RespondUnprocessable(w, "user, latitude, longitude and score are required")
		return
	}
	loc := geo.Location{Lat: lat, Long: long}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	shortPrev, shortOK := s.short.Get(userID)
	if shortOK && loc.Distance(shortPrev) < ShortGateDistance {
		// No significant movement. Keep both previous locations alive.
		s.short.Refresh(userID)
		s.long.Refresh(userID)
		fmt.Fprintf(w, "%s\r\n", markerNoMovement)
		return
	}

	longPrev, longOK := s.long.Get(userID)
	if longOK && loc.Distance(longPrev) < LongGateDistance {
		// Moved enough for road info but not for scoring.
		s.short.Set(userID, loc)
		s.long.Refresh(userID)
		fmt.Fprintf(w, "%s%s\r\n", markerRoadInfoOnly, formatLocation(longPrev))
		return
	}

	// Both gates passed. A first sighting has no recorded previous
	// location; report the current one so the road-info query covers a
	// degenerate segment instead of being skipped.
	prev := loc
	if longOK {
		prev = longPrev
	}
	s.short.Set(userID, loc)
	s.long.Set(userID, loc)

	fmt.Fprintf(w, "%s%s\r\n", markerScoring, formatLocation(prev))
	entries, err := s.index.Lookup(loc, userID)
	if err != nil {
		slog.Error("score lookup failed", "user", userID, "error", err)
	}
	for i, e := range entries {
		if i >= maxCloseScores {
			break
		}
		fmt.Fprintf(w, "%s,%s\r\n", formatLocation(e.Location), formatScore(e.Score))
	}

	if err := s.index.Insert(loc, userID, score); err != nil {
		slog.Error("score insert failed", "user", userID, "error", err)
	}
}

// HandleDumpIndex serves GET /dump_index for diagnostics.
func (s *Service) HandleDumpIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.index.Dump(w); err != nil {
		slog.Error("index dump failed", "error", err)
	}
}

func formatLocation(l geo.Location) string {
	return strconv.FormatFloat(l.Lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(l.Long, 'f', -1, 64)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
