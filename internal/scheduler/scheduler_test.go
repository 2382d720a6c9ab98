package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAligned(t *testing.T) {
	day := func(hh, mm, ss int) time.Time {
		return time.Date(2025, 3, 10, hh, mm, ss, 0, time.UTC)
	}

	cases := []struct {
		name  string
		now   time.Time
		every time.Duration
		want  time.Time
	}{
		{"half hour mid-window", day(9, 17, 30), 30 * time.Minute, day(9, 30, 0)},
		{"half hour on the boundary", day(9, 30, 0), 30 * time.Minute, day(10, 0, 0)},
		{"minute tick", day(9, 17, 45), time.Minute, day(9, 18, 0)},
		{"rolls past midnight", day(23, 59, 10), time.Minute, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"hourly", day(0, 0, 1), time.Hour, day(1, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextAligned(tc.now, tc.every))
		})
	}
}

func TestAddValidation(t *testing.T) {
	s := New(time.UTC)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Name: "", Every: time.Minute, Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Every: 0, Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Every: time.Minute, Run: nil}))

	require.NoError(t, s.Add(Job{Name: "a", Every: time.Minute, Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Every: time.Minute, Run: noop}))
}

func TestRunJobByName(t *testing.T) {
	s := New(time.UTC)
	var ran atomic.Int32
	require.NoError(t, s.Add(Job{Name: "phase", Every: time.Minute, Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))
	boom := errors.New("boom")
	require.NoError(t, s.Add(Job{Name: "alerts", Every: time.Minute, Run: func(context.Context) error {
		return boom
	}}))

	require.NoError(t, s.RunJob(context.Background(), "phase"))
	assert.Equal(t, int32(1), ran.Load())

	assert.ErrorIs(t, s.RunJob(context.Background(), "alerts"), boom)
	assert.Error(t, s.RunJob(context.Background(), "nope"))
}

func TestStatusTracksRunsAndErrors(t *testing.T) {
	s := New(time.UTC)
	require.NoError(t, s.Add(Job{Name: "beta", Every: 30 * time.Minute, Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, s.Add(Job{Name: "alpha", Every: time.Minute, Run: func(context.Context) error {
		return nil
	}}))

	_ = s.RunJob(context.Background(), "beta")
	require.NoError(t, s.RunJob(context.Background(), "alpha"))

	rows := s.Status()
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].Name)
	assert.Equal(t, uint64(1), rows[0].Runs)
	assert.Empty(t, rows[0].LastErr)
	require.NotNil(t, rows[0].LastRun)

	assert.Equal(t, "beta", rows[1].Name)
	assert.Equal(t, "boom", rows[1].LastErr)
}

func TestStartFiresDueJobs(t *testing.T) {
	s := New(time.UTC)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "fast", Every: 25 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
