package scores

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ix := newTestIndex(t, 500, time.Hour, IndexOptions{Ordered: true})
	return NewService(ix)
}

func get(t *testing.T, s *Service, user string, lat, long, score float64) (int, string) {
	t.Helper()
	url := fmt.Sprintf("/driver_scores?user=%s&latitude=%f&longitude=%f&score=%f",
		user, lat, long, score)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	s.HandleDriverScores(rec, req)
	return rec.Code, rec.Body.String()
}

func TestDriverScoresMissingArguments(t *testing.T) {
	s := newTestService(t)
	for _, url := range []string{
		"/driver_scores",
		"/driver_scores?user=u1&latitude=40&longitude=-3", // no score
		"/driver_scores?user=u1&latitude=x&longitude=-3&score=1",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		s.HandleDriverScores(rec, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", url, rec.Code)
		}
	}
}

func TestDriverScoresFirstSighting(t *testing.T) {
	s := newTestService(t)
	code, body := get(t, s, "u1", 40.0, -3.0, 500)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// First sighting passes both gates and reports the current
	// location as the previous one.
	if !strings.HasPrefix(body, "#+40,-3\r\n") {
		t.Errorf("unexpected first response: %q", body)
	}
}

func TestDriverScoresShortGate(t *testing.T) {
	s := newTestService(t)
	get(t, s, "u1", 40.0, -3.0, 500)

	// Second call ~2 m away: no movement marker, nothing else.
	_, body := get(t, s, "u1", 40.00002, -3.0, 500)
	if body != "#*\r\n" {
		t.Errorf("expected %q, got %q", "#*\r\n", body)
	}
}

func TestDriverScoresLongGate(t *testing.T) {
	s := newTestService(t)
	get(t, s, "u1", 40.0, -3.0, 500)

	// ~110 m north: past the short gate, inside the long gate. The
	// previous location reported is the long-gate one.
	_, body := get(t, s, "u1", 40.001, -3.0, 500)
	if !strings.HasPrefix(body, "#i40,-3\r\n") {
		t.Errorf("expected road-info-only marker with previous location, got %q", body)
	}
	if strings.Count(body, "\r\n") != 1 {
		t.Errorf("road-info-only response must carry no score lines: %q", body)
	}
}

func TestDriverScoresFullScoring(t *testing.T) {
	s := newTestService(t)

	// Two other drivers near the query point.
	get(t, s, "u2", 40.0001, -3.0001, 700)
	get(t, s, "u3", 40.0002, -3.0002, 300)

	code, body := get(t, s, "u1", 40.0, -3.0, 500)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	lines := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	if !strings.HasPrefix(lines[0], "#+") {
		t.Fatalf("expected scoring marker, got %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("expected 2 score lines, got %d: %q", len(lines)-1, body)
	}
	// Ordered index scans newest first: u3 then u2.
	if !strings.HasSuffix(lines[1], ",300") || !strings.HasSuffix(lines[2], ",700") {
		t.Errorf("unexpected score lines: %v", lines[1:])
	}

	// The caller's own tuple must have been inserted: a different user
	// at the same point now sees it.
	_, body2 := get(t, s, "u4", 40.0003, -3.0003, 100)
	if !strings.Contains(body2, ",500") {
		t.Errorf("caller insert missing from neighbor lookup: %q", body2)
	}
}

func TestDriverScoresCapsAtTenLines(t *testing.T) {
	s := newTestService(t)
	for i := 0; i < 15; i++ {
		user := fmt.Sprintf("u%02d", i)
		get(t, s, user, 40.0+float64(i)*1e-5, -3.0, float64(100+i))
	}
	_, body := get(t, s, "query-user", 40.0, -3.0, 1)
	lines := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	if len(lines)-1 > 10 {
		t.Errorf("expected at most 10 score lines, got %d", len(lines)-1)
	}
}
