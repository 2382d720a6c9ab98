package export

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/telemetry"
)

type reqKind int

const (
	reqBuild reqKind = iota
	reqSweep
)

type request struct {
	kind reqKind
	date string
}

// LastExport records the most recent workbook build the runner performed.
type LastExport struct {
	At     time.Time
	Kind   string
	Result string
}

// Runner serializes every workbook write on one goroutine so the daily and
// rolling exporters never race on the filesystem. Requests are fire and
// forget; because each run rebuilds its artifact from scratch, a dropped
// duplicate costs nothing.
type Runner struct {
	daily    *DailyExporter
	rolling  *RollingExporter
	sweeper  *Sweeper
	requests chan request

	mu   sync.Mutex
	last *LastExport

	// Metrics is optional; the composition root sets it.
	Metrics *telemetry.Metrics
}

// NewRunner bundles the exporters behind one request queue.
func NewRunner(daily *DailyExporter, rolling *RollingExporter, sweeper *Sweeper) *Runner {
	return &Runner{
		daily:    daily,
		rolling:  rolling,
		sweeper:  sweeper,
		requests: make(chan request, 32),
	}
}

// RequestDaily rebuilds the date's workbook and, behind it, the rolling
// summary. The rolling exporter rides the daily cadence so the summary
// stays current through the day.
func (r *Runner) RequestDaily(date string) { r.enqueue(request{kind: reqBuild, date: date}) }

// RequestFinalize rebuilds a closing date's artifacts. Builds always start
// from scratch, so it shares the daily path.
func (r *Runner) RequestFinalize(date string) { r.enqueue(request{kind: reqBuild, date: date}) }

// RequestSweep deletes workbooks past retention.
func (r *Runner) RequestSweep() { r.enqueue(request{kind: reqSweep}) }

func (r *Runner) enqueue(req request) {
	select {
	case r.requests <- req:
	default:
		// the queue already holds a backlog that will rebuild the same
		// artifacts, so dropping is safe
		log.Debug().Int("kind", int(req.kind)).Str("date", req.date).Msg("export queue full, request dropped")
	}
}

// Run processes export requests until the context ends.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.requests:
			r.handle(ctx, req)
		}
	}
}

func (r *Runner) handle(ctx context.Context, req request) {
	switch req.kind {
	case reqBuild:
		r.build(ctx, req.date)
	case reqSweep:
		r.runSweep()
	}
}

// build rebuilds the day, sweeps, then refreshes the rolling summary, in
// that order so the summary never includes a file the sweep is about to
// remove.
func (r *Runner) build(ctx context.Context, date string) {
	r.runDaily(ctx, date)
	r.runSweep()
	r.runRolling(ctx)
}

// FinalExport runs one synchronous build; the shutdown path calls this
// after the frame pipeline has drained.
func (r *Runner) FinalExport(ctx context.Context, date string) {
	r.build(ctx, date)
}

func (r *Runner) runDaily(ctx context.Context, date string) {
	res, err := r.daily.Export(ctx, date)
	out := outcome(res, err)
	r.Metrics.RecordExport("daily", out)
	r.record("daily", out)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("daily export failed")
	}
}

func (r *Runner) runRolling(ctx context.Context) {
	res, err := r.rolling.Export(ctx)
	out := outcome(res, err)
	r.Metrics.RecordExport("rolling", out)
	r.record("rolling", out)
	if err != nil {
		log.Error().Err(err).Msg("rolling export failed")
	}
}

func (r *Runner) runSweep() {
	_, err := r.sweeper.Sweep()
	r.Metrics.RecordExport("sweep", outcome(Result{}, err))
	if err != nil {
		log.Error().Err(err).Msg("retention sweep failed")
	}
}

// Last reports the most recent daily or rolling build, or nil before the
// first one. Sweeps are not builds and do not show up here.
func (r *Runner) Last() *LastExport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

func (r *Runner) record(kind, result string) {
	r.mu.Lock()
	r.last = &LastExport{At: time.Now(), Kind: kind, Result: result}
	r.mu.Unlock()
}

func outcome(res Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}
