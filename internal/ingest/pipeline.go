// Package ingest moves tracker frames from the network (or a replay file)
// through the gate counter and into the store.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/gate"
	gwio "github.com/sawpanic/gatewatch/internal/io"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/telemetry"
)

// Config sizes the queue and the durable-write fallback chain.
type Config struct {
	QueueSize     int
	WriteAttempts int
	WriteBackoff  time.Duration
	SpillPath     string
}

func (c Config) withDefaults() Config {
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
	if c.WriteAttempts < 1 {
		c.WriteAttempts = 3
	}
	if c.WriteBackoff <= 0 {
		c.WriteBackoff = 100 * time.Millisecond
	}
	return c
}

// Pipeline owns the gate counter and the write path. Frames queue between
// the ingest surfaces and the worker; a full queue never drops a frame,
// the submitting goroutine processes it inline instead.
type Pipeline struct {
	cfg     Config
	counter *gate.Counter
	store   persistence.Store
	metrics *telemetry.Metrics

	queue chan domain.Frame

	// mu serializes counter and store access between the worker loop and
	// inline submits.
	mu sync.Mutex
}

// NewPipeline wires the counter and store behind a bounded queue.
func NewPipeline(counter *gate.Counter, store persistence.Store, metrics *telemetry.Metrics, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:     cfg,
		counter: counter,
		store:   store,
		metrics: metrics,
		queue:   make(chan domain.Frame, cfg.QueueSize),
	}
}

// Submit hands a frame to the worker, or processes it on the calling
// goroutine when the queue is full.
func (p *Pipeline) Submit(frame domain.Frame) {
	select {
	case p.queue <- frame:
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		p.process(context.Background(), frame)
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	log.Info().Int("queue_size", cap(p.queue)).Msg("frame pipeline started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-p.queue:
			p.metrics.SetQueueDepth(len(p.queue))
			p.process(ctx, frame)
		}
	}
}

// Drain processes whatever is still queued. Called at shutdown after the
// ingest surfaces have stopped; returns how many frames it flushed.
func (p *Pipeline) Drain(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	drained := 0
	for time.Now().Before(deadline) {
		select {
		case frame := <-p.queue:
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			p.process(ctx, frame)
			cancel()
			drained++
		default:
			p.metrics.SetQueueDepth(0)
			return drained
		}
	}
	p.metrics.SetQueueDepth(len(p.queue))
	return drained
}

func (p *Pipeline) process(ctx context.Context, frame domain.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	for _, crossing := range p.counter.ProcessFrame(frame) {
		p.persist(ctx, frame.CameraID, crossing)
	}
	p.metrics.SetActiveTracks(p.counter.ActiveTracks())
	p.metrics.ObserveFrame(time.Since(start))
}

// persist writes one crossing durably: a short retry loop, one last direct
// attempt on a fresh context, then the spill file. The crossing is never
// dropped silently.
func (p *Pipeline) persist(ctx context.Context, cameraID string, c gate.Crossing) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.WriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * p.cfg.WriteBackoff)
		}
		id, err := p.store.AppendEvent(ctx, c.At, string(c.Direction), cameraID, c.TrackID)
		if err == nil {
			p.recorded(ctx, id, cameraID, c)
			return
		}
		lastErr = err
		p.metrics.RecordStoreFailure()
	}

	direct, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	id, err := p.store.AppendEvent(direct, c.At, string(c.Direction), cameraID, c.TrackID)
	cancel()
	if err == nil {
		p.recorded(ctx, id, cameraID, c)
		return
	}
	p.metrics.RecordStoreFailure()
	lastErr = err

	p.spill(cameraID, c, lastErr)
}

func (p *Pipeline) recorded(ctx context.Context, id int64, cameraID string, c gate.Crossing) {
	p.metrics.RecordEvent(string(c.Direction))
	log.Debug().
		Int64("event_id", id).
		Str("direction", string(c.Direction)).
		Int64("track_id", c.TrackID).
		Str("entry", string(c.EntrySide)).
		Str("exit", string(c.ExitSide)).
		Float64("travel_px", c.TravelPx).
		Msg("crossing recorded")

	date := persistence.DateOf(c.At)
	if err := p.store.IncrementRealtime(ctx, date, c.Direction); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("failed to bump realtime counter")
	}
}

// spillRecord keeps a refused crossing replayable by hand.
type spillRecord struct {
	EventTime string `json:"event_time"`
	Direction string `json:"direction"`
	CameraID  string `json:"camera_id"`
	TrackID   int64  `json:"track_id"`
	Error     string `json:"error"`
	SpilledAt string `json:"spilled_at"`
}

func (p *Pipeline) spill(cameraID string, c gate.Crossing, cause error) {
	rec := spillRecord{
		EventTime: c.At.Format(time.RFC3339),
		Direction: string(c.Direction),
		CameraID:  cameraID,
		TrackID:   c.TrackID,
		Error:     cause.Error(),
		SpilledAt: time.Now().Format(time.RFC3339),
	}
	if err := gwio.AppendJSONLine(p.cfg.SpillPath, rec); err != nil {
		log.Error().Err(err).
			Str("direction", string(c.Direction)).
			Time("event_time", c.At).
			Msg("event lost: store and spill file both failed")
		return
	}
	p.metrics.RecordSpill()
	log.Error().Err(cause).
		Str("spill_path", p.cfg.SpillPath).
		Str("direction", string(c.Direction)).
		Time("event_time", c.At).
		Msg("store unavailable, crossing written to spill file")
}
