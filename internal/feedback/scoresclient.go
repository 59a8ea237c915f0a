package feedback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"driverstream/internal/geo"
)

// Client for the driver-scores endpoint. The response is plain text
// with CRLF-terminated lines; the first line is a marker:
//
//	#*                no significant movement
//	#i<lat>,<long>    too little movement for scoring, road info only
//	#+<lat>,<long>    scoring; up to 10 "lat,long,score" lines follow
//
// The location in the marker is the previously recorded one, used for
// the road-info segment query.

// scoresResult is the parsed endpoint response.
type scoresResult struct {
	noMovement bool
	scoring    bool
	previous   *geo.Location
	scores     []DriverScore
}

// fetchScores calls the scores service and parses its reply.
func fetchScores(ctx context.Context, client *http.Client, baseURL, user string, loc geo.Location, score float64) (*scoresResult, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("score info url: %w", err)
	}
	q := u.Query()
	q.Set("user", user)
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Long, 'f', -1, 64))
	q.Set("score", strconv.FormatFloat(score, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scores service returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	return parseScoresResponse(string(body))
}

func parseScoresResponse(body string) (*scoresResult, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("empty scores response")
	}

	res := &scoresResult{}
	head := lines[0]
	switch {
	case head == "#*":
		res.noMovement = true
		return res, nil
	case strings.HasPrefix(head, "#i"):
		prev, err := parseLocation(head[2:])
		if err != nil {
			return nil, fmt.Errorf("scores marker %q: %w", head, err)
		}
		res.previous = &prev
		return res, nil
	case strings.HasPrefix(head, "#+"):
		prev, err := parseLocation(head[2:])
		if err != nil {
			return nil, fmt.Errorf("scores marker %q: %w", head, err)
		}
		res.scoring = true
		res.previous = &prev
	default:
		return nil, fmt.Errorf("unknown scores marker %q", head)
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed score line %q", line)
		}
		lat, err1 := strconv.ParseFloat(parts[0], 64)
		long, err2 := strconv.ParseFloat(parts[1], 64)
		score, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("malformed score line %q", line)
		}
		res.scores = append(res.scores, DriverScore{
			Latitude:  lat,
			Longitude: long,
			Score:     score,
		})
	}
	return res, nil
}

func parseLocation(s string) (geo.Location, error) {
	latStr, longStr, found := strings.Cut(s, ",")
	if !found {
		return geo.Location{}, fmt.Errorf("expected lat,long")
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	long, err2 := strconv.ParseFloat(longStr, 64)
	if err1 != nil || err2 != nil {
		return geo.Location{}, fmt.Errorf("expected lat,long")
	}
	return geo.Location{Lat: lat, Long: long}, nil
}
