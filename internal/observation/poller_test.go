package observation

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedsync/internal/bedstate"
	"bedsync/internal/common/errors"
	"bedsync/internal/withings"
)

type fakeSleepSource struct {
	mu     sync.Mutex
	series []withings.SleepSeries
	err    error
	calls  atomic.Int32
	start  time.Time
	end    time.Time
}

func (f *fakeSleepSource) GetSleep(ctx context.Context, start, end time.Time) ([]withings.SleepSeries, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start, f.end = start, end
	return f.series, f.err
}

func (f *fakeSleepSource) set(series []withings.SleepSeries) {
	f.mu.Lock()
	f.series = series
	f.mu.Unlock()
}

type countingDispatcher struct {
	mu     sync.Mutex
	states []bedstate.State
}

func (c *countingDispatcher) Dispatch(ctx context.Context, event bedstate.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, event.State)
	return nil
}

func (c *countingDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func TestNewPoller_InvalidSchedule(t *testing.T) {
	_, err := NewPoller("every five minutes", &fakeSleepSource{}, bedstate.NewDetector(nil, nil), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestPoller_Poll(t *testing.T) {
	now := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)
	source := &fakeSleepSource{}
	dispatcher := &countingDispatcher{}
	detector := bedstate.NewDetector(dispatcher, nil)

	poller, err := NewPoller("@every 5m", source, detector, nil,
		WithPollClock(func() time.Time { return now }),
		WithLookback(12*time.Hour))
	require.NoError(t, err)

	// Empty series: no change, no side effect.
	assert.False(t, poller.Poll(context.Background()))
	assert.Equal(t, bedstate.Unknown, detector.Current())
	assert.Equal(t, now.Add(-12*time.Hour), source.start)
	assert.Equal(t, now, source.end)

	source.set([]withings.SleepSeries{{State: withings.SleepStateLight, InBed: intPtr(1)}})
	assert.True(t, poller.Poll(context.Background()))
	assert.Equal(t, bedstate.InBed, detector.Current())
	assert.Zero(t, dispatcher.count())

	source.set(nil)
	assert.False(t, poller.Poll(context.Background()))
	assert.Equal(t, bedstate.InBed, detector.Current())

	source.set([]withings.SleepSeries{
		{State: withings.SleepStateDeep, InBed: intPtr(1)},
		{State: withings.SleepStateAwake, InBed: intPtr(0)},
	})
	assert.True(t, poller.Poll(context.Background()))
	assert.Equal(t, bedstate.OutOfBed, detector.Current())
	assert.Equal(t, 1, dispatcher.count())
}

func TestPoller_PollError(t *testing.T) {
	source := &fakeSleepSource{err: stderrors.New("sleep api down")}
	detector := bedstate.NewDetector(nil, nil)

	poller, err := NewPoller("@every 1m", source, detector, nil)
	require.NoError(t, err)

	assert.False(t, poller.Poll(context.Background()))
	assert.Equal(t, bedstate.Unknown, detector.Current())
}

func TestPoller_StartStop(t *testing.T) {
	source := &fakeSleepSource{}
	source.set([]withings.SleepSeries{{State: withings.SleepStateAwake}})
	detector := bedstate.NewDetector(nil, nil)

	poller, err := NewPoller("@every 1s", source, detector, nil)
	require.NoError(t, err)
	assert.True(t, poller.Next().IsZero())

	require.NoError(t, poller.Start(context.Background()))
	require.NoError(t, poller.Start(context.Background()))
	assert.False(t, poller.Next().IsZero())

	require.Eventually(t, func() bool {
		return source.calls.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, bedstate.OutOfBed, detector.Current())

	poller.Stop()
	poller.Stop()
	assert.True(t, poller.Next().IsZero())

	calls := source.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, source.calls.Load())
}
