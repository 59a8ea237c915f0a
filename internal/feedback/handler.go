package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"driverstream/internal/events"
	"driverstream/internal/geo"
	"driverstream/internal/scores"
	"driverstream/internal/stats"
	"driverstream/internal/util"
)

const (
	// DefaultDeadline bounds the whole feedback build. The driver app
	// blocks on the publish response, so a late answer is useless.
	DefaultDeadline = 5 * time.Second

	// localGateDistance matches the scores service short gate: below
	// this movement the previous feedback is still valid and no remote
	// call is made.
	localGateDistance = 10.0

	triggerApplicationID = "SmartDriver"
	triggerEventType     = "Vehicle Location"
)

// Config configures the feedback responder.
type Config struct {
	// Enabled turns the whole feedback path on. When false every
	// publish gets the default empty 200.
	Enabled bool
	// RoadInfoEnabled turns the road metadata section on. When false
	// the section reports DISABLED.
	RoadInfoEnabled bool
	// ScoreInfoURL is the driver-scores endpoint.
	ScoreInfoURL string
	// RoadInfoURL is the external road metadata endpoint.
	RoadInfoURL string
	// Deadline bounds both lookups together. Defaults to
	// DefaultDeadline.
	Deadline time.Duration
}

// Handler builds the synchronous feedback response to a Vehicle
// Location publish. It implements streaming.PublishResponder.
type Handler struct {
	cfg      Config
	http     *http.Client
	lastLoc  *scores.RecencyBuffer[geo.Location]
	roadInfo singleflight.Group
}

// NewHandler creates a feedback handler. Call Run for the periodic
// maintenance of the local movement gate.
func NewHandler(cfg Config) *Handler {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Handler{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Deadline},
		lastLoc: scores.NewRecencyBuffer[geo.Location](),
	}
}

// Run rolls the local gate buffer until ctx is done. Entries survive
// one to two periods, so a driver idle that long is treated as new.
func (h *Handler) Run(ctx context.Context, rollPeriod time.Duration) {
	ticker := time.NewTicker(rollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.lastLoc.Roll()
		}
	}
}

// RespondPublish replies with driver feedback when the published batch
// leads with a SmartDriver Vehicle Location event. Any other batch
// falls through to the default publish response.
func (h *Handler) RespondPublish(w http.ResponseWriter, r *http.Request, evs []*events.Event) bool {
	if !h.cfg.Enabled || len(evs) == 0 {
		return false
	}
	ev := evs[0]
	if ev.ApplicationID != triggerApplicationID || ev.EventType != triggerEventType {
		return false
	}
	lat, long, score, ok := ev.LocationBody()
	if !ok {
		slog.Warn("vehicle location event without usable body",
			"event_id", ev.EventID, "source_id", ev.SourceID)
		return false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Deadline)
	defer cancel()

	fb := h.build(ctx, ev.SourceID, geo.Location{Lat: lat, Long: long}, score)
	h.write(w, fb)
	return true
}

// build assembles both feedback sections for one driver position.
func (h *Handler) build(ctx context.Context, user string, loc geo.Location, score float64) *Feedback {
	fb := New()

	// Local movement gate: a driver who has not moved keeps the
	// previous feedback without any remote call.
	if prev, ok := h.lastLoc.Get(user); ok && loc.Distance(prev) < localGateDistance {
		h.lastLoc.Refresh(user)
		fb.Scores.Status = StatusUsePrevious
		fb.RoadInfo.Status = h.roadInfoGateStatus()
		return fb
	}
	h.lastLoc.Set(user, loc)

	res, err := fetchScores(ctx, h.http, h.cfg.ScoreInfoURL, user, loc, score)
	if err != nil {
		fb.Scores.Status = statusForError(ctx, err)
		slog.Warn("scores lookup failed", "user", user, "error", err)
		return fb
	}

	switch {
	case res.noMovement:
		fb.Scores.Status = StatusUsePrevious
		fb.RoadInfo.Status = h.roadInfoGateStatus()
		return fb
	case res.scoring:
		if len(res.scores) > 0 {
			fb.Scores.Status = StatusOK
			fb.Scores.CloseScores = res.scores
		} else {
			fb.Scores.Status = StatusNoData
		}
	default:
		// Road-info-only marker: movement below the scoring gate.
		fb.Scores.Status = StatusUsePrevious
	}

	if res.previous != nil {
		h.fillRoadInfo(ctx, fb, loc, *res.previous)
	}
	return fb
}

// roadInfoGateStatus is the road-info status when the local gate short
// circuits the lookups.
func (h *Handler) roadInfoGateStatus() Status {
	if !h.cfg.RoadInfoEnabled {
		return StatusDisabled
	}
	return StatusUsePrevious
}

// fillRoadInfo queries road metadata for the segment and records the
// outcome in the section. Concurrent requests for the same segment
// share one upstream call.
func (h *Handler) fillRoadInfo(ctx context.Context, fb *Feedback, current, previous geo.Location) {
	if !h.cfg.RoadInfoEnabled {
		fb.RoadInfo.Status = StatusDisabled
		return
	}

	key := segmentKey(current, previous)
	v, err, _ := h.roadInfo.Do(key, func() (interface{}, error) {
		return fetchRoadInfo(ctx, h.http, h.cfg.RoadInfoURL, current, previous)
	})
	if err != nil {
		fb.RoadInfo.Status = statusForError(ctx, err)
		slog.Warn("road info lookup failed", "segment", key, "error", err)
		return
	}
	reply, _ := v.(*roadInfoReply)
	if reply == nil {
		fb.RoadInfo.Status = StatusNoData
		return
	}
	fb.RoadInfo.Status = StatusOK
	fb.RoadInfo.RoadType = reply.LinkType
	fb.RoadInfo.MaxSpeed = reply.MaxSpeed
}

func segmentKey(current, previous geo.Location) string {
	return fmt.Sprintf("%s,%s-%s,%s",
		strconv.FormatFloat(previous.Lat, 'f', 5, 64),
		strconv.FormatFloat(previous.Long, 'f', 5, 64),
		strconv.FormatFloat(current.Lat, 'f', 5, 64),
		strconv.FormatFloat(current.Long, 'f', 5, 64))
}

// statusForError maps a lookup failure to the section status: timeout
// when the shared deadline expired, service error otherwise.
func statusForError(ctx context.Context, err error) Status {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return StatusServiceTimeout
	}
	return StatusServiceError
}

// write serializes the feedback as gzipped JSON.
func (h *Handler) write(w http.ResponseWriter, fb *Feedback) {
	stats.FeedbackResponses.WithLabelValues(
		strconv.Itoa(int(fb.Scores.Status)),
		strconv.Itoa(int(fb.RoadInfo.Status))).Inc()

	data, err := fb.Marshal()
	if err != nil {
		util.RespondInternalError(w, "feedback serialization failed")
		return
	}
	compressed, err := util.CompressGzip(data)
	if err != nil {
		util.RespondInternalError(w, "feedback compression failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	w.Write(compressed)
}
