// Package scheduler runs the monitor's recurring duties on wall-aligned
// boundaries: phase ticks land on the minute, alert and export ticks on
// :00 and :30.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one recurring duty. Every should divide evenly into a day so the
// runs land on clean wall-clock boundaries (1m, 5m, 30m, 1h).
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type jobState struct {
	Job
	next    time.Time
	lastRun time.Time
	lastErr string
	runs    uint64
}

// JobStatus is one row of the Status snapshot.
type JobStatus struct {
	Name    string     `json:"name"`
	Every   string     `json:"every"`
	NextRun time.Time  `json:"next_run"`
	LastRun *time.Time `json:"last_run,omitempty"`
	Runs    uint64     `json:"runs"`
	LastErr string     `json:"last_error,omitempty"`
}

// Scheduler drives a fixed set of jobs from one goroutine. Ticks are
// idempotent on the consumer side, so a missed boundary is skipped, never
// replayed.
type Scheduler struct {
	loc *time.Location
	now func() time.Time

	mu   sync.Mutex
	jobs []*jobState
}

// New builds an empty scheduler in the given location.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{loc: loc, now: time.Now}
}

// Add registers a job. All jobs are added before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if job.Every <= 0 {
		return fmt.Errorf("job %s: cadence must be positive, got %s", job.Name, job.Every)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function must not be nil", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, &jobState{Job: job})
	return nil
}

// Start runs until ctx is cancelled. Each job fires when the wall clock
// passes a multiple of its cadence counted from local midnight.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	now := s.now().In(s.loc)
	for _, j := range s.jobs {
		j.next = nextAligned(now, j.Every)
	}
	count := len(s.jobs)
	s.mu.Unlock()

	log.Info().Int("jobs", count).Str("timezone", s.loc.String()).Msg("scheduler started")

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.runDue(ctx)
			timer.Reset(s.untilNext())
		}
	}
}

// RunJob fires one job immediately by name, outside its cadence, and
// returns the job's error.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *jobState
	for _, j := range s.jobs {
		if j.Name == name {
			target = j
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, target, s.now().In(s.loc))
}

// Status reports each job's cadence and recent activity, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		row := JobStatus{
			Name:    j.Name,
			Every:   j.Every.String(),
			NextRun: j.next,
			Runs:    j.runs,
			LastErr: j.lastErr,
		}
		if !j.lastRun.IsZero() {
			t := j.lastRun
			row.LastRun = &t
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		return time.Minute
	}
	var earliest time.Time
	for _, j := range s.jobs {
		if earliest.IsZero() || j.next.Before(earliest) {
			earliest = j.next
		}
	}
	d := earliest.Sub(s.now())
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now().In(s.loc)

	s.mu.Lock()
	var due []*jobState
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
			j.next = nextAligned(now, j.Every)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		_ = s.execute(ctx, j, now)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *jobState, now time.Time) error {
	start := time.Now()
	err := j.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	j.lastRun = now
	j.runs++
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		log.Debug().Str("job", j.Name).Dur("elapsed", elapsed).Msg("scheduled job finished")
	case errors.Is(err, context.Canceled):
		// shutdown in progress
	default:
		log.Error().Err(err).Str("job", j.Name).Dur("elapsed", elapsed).Msg("scheduled job failed")
	}
	return err
}

// nextAligned returns the first wall-clock multiple of every strictly
// after now, counted from local midnight.
func nextAligned(now time.Time, every time.Duration) time.Time {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	n := now.Sub(midnight)/every + 1
	return midnight.Add(n * every)
}
