package feedback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"driverstream/internal/geo"
)

// roadInfoReply is the JSON body of the external road-info service.
// An empty body means the service has no data for the segment.
type roadInfoReply struct {
	LinkType *string  `json:"linkType"`
	MaxSpeed *float64 `json:"maxSpeed"`
}

// fetchRoadInfo queries the external service for the segment from the
// previous to the current location. Returns (nil, nil) on an empty
// body.
func fetchRoadInfo(ctx context.Context, client *http.Client, baseURL string, current, previous geo.Location) (*roadInfoReply, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("road info url: %w", err)
	}
	q := u.Query()
	q.Set("currentLat", strconv.FormatFloat(current.Lat, 'f', -1, 64))
	q.Set("currentLong", strconv.FormatFloat(current.Long, 'f', -1, 64))
	q.Set("previousLat", strconv.FormatFloat(previous.Lat, 'f', -1, 64))
	q.Set("previousLong", strconv.FormatFloat(previous.Long, 'f', -1, 64))
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
		return nil, fmt.Errorf("road info service returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var reply roadInfoReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("road info body: %w", err)
	}
	return &reply, nil
}
