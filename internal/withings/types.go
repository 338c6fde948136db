package withings

import (
	"encoding/json"
	"time"
)

type apiEnvelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error,omitempty"`
	Body   json.RawMessage `json:"body"`
}

type sleepBody struct {
	Series []SleepSeries `json:"series"`
	More   bool          `json:"more,omitempty"`
	Offset int           `json:"offset,omitempty"`
}

// Sleep states reported in SleepSeries.State.
const (
	SleepStateAwake = 0
	SleepStateLight = 1
	SleepStateDeep  = 2
	SleepStateREM   = 3
)

// SleepSeries is one segment of a sleep session. The API returns segments
// in chronological order.
type SleepSeries struct {
	StartDate int64 `json:"startdate"`
	EndDate   int64 `json:"enddate"`
	State     int   `json:"state"`
	// InBed is 1 while the tracker detects occupancy. A missing flag means
	// out of bed.
	InBed *int   `json:"in_bed,omitempty"`
	Model string `json:"model,omitempty"`
}

// Start returns the segment start as a time.
func (s SleepSeries) Start() time.Time {
	return time.Unix(s.StartDate, 0).UTC()
}

// End returns the segment end as a time.
func (s SleepSeries) End() time.Time {
	return time.Unix(s.EndDate, 0).UTC()
}

// Occupied reports whether the segment counts as in bed: only an explicit
// in_bed of 1 does. State is ignored.
func (s SleepSeries) Occupied() bool {
	return s.InBed != nil && *s.InBed == 1
}
