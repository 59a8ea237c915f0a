// Package feedback assembles the synchronous per-driver response to a
// Vehicle Location publish: nearby anonymous scores plus road metadata,
// under a shared deadline.
package feedback

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the per-section outcome code carried in the response.
type Status int

// Section status codes.
const (
	StatusOK             Status = 1
	StatusDisabled       Status = 11
	StatusUsePrevious    Status = 21
	StatusNoData         Status = 22
	StatusServiceTimeout Status = 31
	StatusServiceError   Status = 32
)

// DriverScore is one nearby anonymous score.
type DriverScore struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Score     float64 `json:"score"`
}

// ScoresSection reports the nearby-scores lookup.
type ScoresSection struct {
	Status      Status        `json:"status"`
	CloseScores []DriverScore `json:"closeScores"`
}

// RoadInfoSection reports the road metadata lookup.
type RoadInfoSection struct {
	Status   Status   `json:"status"`
	RoadType *string  `json:"roadType,omitempty"`
	MaxSpeed *float64 `json:"maxSpeed,omitempty"`
}

// Feedback is the response body for one publish. Recommendation is
// reserved and currently always empty.
type Feedback struct {
	Recommendation struct{}        `json:"recommendation"`
	Scores         ScoresSection   `json:"scores"`
	RoadInfo       RoadInfoSection `json:"roadInfo"`
}

// New creates a feedback object with both sections defaulting to
// NO_DATA and an empty scores list, so a serialized response is always
// well-formed no matter which lookups completed.
func New() *Feedback {
	return &Feedback{
		Scores:   ScoresSection{Status: StatusNoData, CloseScores: []DriverScore{}},
		RoadInfo: RoadInfoSection{Status: StatusNoData},
	}
}

// Marshal serializes the feedback as JSON.
func (f *Feedback) Marshal() ([]byte, error) {
	return json.Marshal(f)
}
