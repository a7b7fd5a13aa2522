package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Interval(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Schedule(IngestJobTag, "50ms", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.GetJobs(), 1)
}

func TestSchedule_Cron(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	require.NoError(t, s.Schedule(IngestJobTag, "0 */6 * * *", func(context.Context) error { return nil }))
	s.Start()

	jobs := s.GetJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{IngestJobTag}, jobs[0].Tags())
	require.Eventually(t, func() bool { return jobs[0].NextRun().After(time.Now()) }, time.Second, 10*time.Millisecond)
	next := jobs[0].NextRun().UTC()
	assert.Zero(t, next.Hour()%6)
	assert.Zero(t, next.Minute())
}

func TestSchedule_Invalid(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	assert.Error(t, s.Schedule("bad", "not a schedule", func(context.Context) error { return nil }))
	assert.Error(t, s.Schedule("negative", "-1h", func(context.Context) error { return nil }))
}

func TestSchedule_DuplicateTag(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	require.NoError(t, s.Schedule(IngestJobTag, "1h", func(context.Context) error { return nil }))
	assert.Error(t, s.Schedule(IngestJobTag, "2h", func(context.Context) error { return nil }))
}

func TestStop_CancelsJobContext(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	done := make(chan error, 1)
	require.NoError(t, s.Schedule(IngestJobTag, "20ms", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled")
	}
	s.Stop()
}
