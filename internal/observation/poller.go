package observation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bedsync/internal/bedstate"
	"bedsync/internal/common/errors"
	"bedsync/internal/common/logging"
	"bedsync/internal/withings"
)

// DefaultLookback is how far back each poll asks for sleep segments.
const DefaultLookback = 24 * time.Hour

// SleepSource is the sleep API as the poller sees it.
type SleepSource interface {
	GetSleep(ctx context.Context, start, end time.Time) ([]withings.SleepSeries, error)
}

// Observer receives observations; *bedstate.Detector implements it.
type Observer interface {
	Observe(ctx context.Context, obs bedstate.Observation) bedstate.Result
}

// Poller queries the sleep API on a cron schedule and feeds the result to
// an Observer. Errors are logged and the next tick tries again.
type Poller struct {
	source   SleepSource
	observer Observer
	schedule string
	lookback time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entryID cron.EntryID
}

type PollerOption func(*Poller)

func WithLookback(lookback time.Duration) PollerOption {
	return func(p *Poller) { p.lookback = lookback }
}

func WithPollTimeout(timeout time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = timeout }
}

func WithPollClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// NewPoller validates schedule (standard cron or "@every 5m") and returns a
// stopped Poller.
func NewPoller(schedule string, source SleepSource, observer Observer, logger logging.Logger, opts ...PollerOption) (*Poller, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.ConfigError("invalid poll schedule: " + err.Error())
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	p := &Poller{
		source:   source,
		observer: observer,
		schedule: schedule,
		lookback: DefaultLookback,
		timeout:  30 * time.Second,
		now:      time.Now,
		logger:   logger.WithFields(logging.String("component", "poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start schedules polling. Overlapping ticks are skipped rather than queued.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	id, err := p.cron.AddFunc(p.schedule, func() { p.Poll(p.ctx) })
	if err != nil {
		p.cancel()
		p.cron = nil
		return errors.ConfigError("invalid poll schedule: " + err.Error())
	}
	p.entryID = id
	p.cron.Start()

	p.logger.Info("Sleep polling started", logging.String("schedule", p.schedule))
	return nil
}

// Stop cancels an in-flight poll and waits for it to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.logger.Info("Sleep polling stopped")
}

// Next returns the next scheduled poll, or the zero time when stopped.
func (p *Poller) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// Poll runs one query and feeds any resulting observation. It reports
// whether an observation was produced.
func (p *Poller) Poll(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	now := p.now()
	series, err := p.source.GetSleep(ctx, now.Add(-p.lookback), now)
	if err != nil {
		p.logger.Error("Sleep poll failed", err)
		return false
	}

	obs, ok := FromSeries(series, now)
	if !ok {
		p.logger.Debug("Sleep poll returned no series")
		return false
	}

	result := p.observer.Observe(ctx, obs)
	p.logger.Debug("Sleep poll observed",
		logging.Bool("in_bed", obs.InBed),
		logging.String("result", result.String()))
	return true
}
