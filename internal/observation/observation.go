// Package observation normalizes the two Withings input channels, push
// notifications and sleep API polling, into bedstate observations.
package observation

import (
	"strconv"
	"strings"
	"time"

	"bedsync/internal/bedstate"
	"bedsync/internal/withings"
)

const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// FromAppli maps a notification category to an observation. Only the
// bed-in and bed-out codes produce one.
func FromAppli(code string, at time.Time) (bedstate.Observation, bool) {
	appli, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return bedstate.Observation{}, false
	}

	switch appli {
	case withings.AppliBedIn:
		return bedstate.Observation{ObservedAt: at, InBed: true, Source: SourcePush}, true
	case withings.AppliBedOut:
		return bedstate.Observation{ObservedAt: at, InBed: false, Source: SourcePush}, true
	default:
		return bedstate.Observation{}, false
	}
}

// FromSeries takes the last segment of an ordered sleep series. An empty
// series produces no observation; it does not mean out of bed.
func FromSeries(series []withings.SleepSeries, at time.Time) (bedstate.Observation, bool) {
	if len(series) == 0 {
		return bedstate.Observation{}, false
	}
	latest := series[len(series)-1]
	return bedstate.Observation{
		ObservedAt: at,
		InBed:      latest.Occupied(),
		Source:     SourcePoll,
	}, true
}
