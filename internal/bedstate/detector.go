package bedstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bedsync/internal/common/logging"
)

// Detector is the edge-triggered occupancy state machine. It starts Unknown;
// the first observation only initializes it, and afterwards every change of
// state triggers exactly one dispatch.
type Detector struct {
	dispatcher Dispatcher
	logger     logging.Logger

	mu          sync.Mutex
	state       State
	changedAt   time.Time
	transitions int
}

// NewDetector returns a Detector in the Unknown state. dispatcher may be nil,
// in which case transitions are only logged.
func NewDetector(dispatcher Dispatcher, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Detector{
		dispatcher: dispatcher,
		logger:     logger.WithFields(logging.String("component", "detector")),
	}
}

// Observe applies obs. The state comparison, the state write and the
// decision to dispatch happen under the lock; the dispatch itself runs after
// the lock is released, on the caller's goroutine. A failed dispatch is
// logged and never retried, and never changes the returned Result.
func (d *Detector) Observe(ctx context.Context, obs Observation) Result {
	next := StateFor(obs.InBed)

	d.mu.Lock()
	previous := d.state
	var result Result
	switch {
	case previous == Unknown:
		result = Initialized
	case previous == next:
		result = Unchanged
	default:
		result = Transitioned
		d.transitions++
	}
	if result != Unchanged {
		d.state = next
		d.changedAt = obs.ObservedAt
	}
	d.mu.Unlock()

	fields := []logging.Field{
		logging.String("state", next.String()),
		logging.String("source", obs.Source),
	}

	switch result {
	case Initialized:
		d.logger.Info("Initial bed state", fields...)
		return result
	case Unchanged:
		d.logger.Debug("Bed state unchanged", fields...)
		return result
	}

	d.logger.Info("Bed state changed", append(fields, logging.String("previous", previous.String()))...)

	if d.dispatcher == nil {
		return result
	}

	event := Event{
		ID:         uuid.NewString(),
		State:      next,
		Previous:   previous,
		ObservedAt: obs.ObservedAt,
		Source:     obs.Source,
	}
	// The triggering request may go away before the side effect finishes.
	if err := d.dispatcher.Dispatch(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Error("Failed to dispatch bed event", err, fields...)
	}
	return result
}

// Current returns the current state.
func (d *Detector) Current() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot is a consistent view of the detector for health reporting.
type Snapshot struct {
	State       State
	ChangedAt   time.Time
	Transitions int
}

func (d *Detector) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		State:       d.state,
		ChangedAt:   d.changedAt,
		Transitions: d.transitions,
	}
}
