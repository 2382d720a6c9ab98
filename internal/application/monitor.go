// Package application assembles the monitor from its parts and owns the
// process lifecycle.
package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/alerts"
	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/export"
	"github.com/sawpanic/gatewatch/internal/gate"
	"github.com/sawpanic/gatewatch/internal/ingest"
	httpapi "github.com/sawpanic/gatewatch/internal/interfaces/http"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/persistence/sqlite"
	"github.com/sawpanic/gatewatch/internal/phase"
	"github.com/sawpanic/gatewatch/internal/scheduler"
	"github.com/sawpanic/gatewatch/internal/telemetry"
)

const (
	storeTimeout = 5 * time.Second

	// selfTestDelay is how long after startup the empty-store check runs.
	selfTestDelay = 60 * time.Second
)

// Monitor is the long-running service: ingest, phase engine, alerts,
// exports, and the ops HTTP surface over one SQLite store.
type Monitor struct {
	cfg     *config.Config
	version string

	store    *sqlite.Store
	clock    *phase.Clock
	pipeline *ingest.Pipeline
	feed     *ingest.Feed
	phases   *phase.Manager
	alerts   *alerts.Manager
	exports  *export.Runner
	sched    *scheduler.Scheduler
	server   *httpapi.Server
	metrics  *telemetry.Metrics

	startedAt time.Time
}

// NewMonitor wires every component from the configuration. Nothing starts
// running until Run.
func NewMonitor(cfg *config.Config, version string) (*Monitor, error) {
	clock, err := phase.NewClock(cfg.Phases)
	if err != nil {
		return nil, fmt.Errorf("failed to build phase clock: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath, clock.Location(), storeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	counter, err := gate.New(gateConfig(cfg.Gate))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build gate counter: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	pipeline := ingest.NewPipeline(counter, store, metrics, ingest.Config{
		QueueSize: cfg.Storage.FrameQueueSize,
		SpillPath: filepath.Join(filepath.Dir(cfg.Storage.DBPath), "spill.jsonl"),
	})
	feed := ingest.NewFeed(pipeline, cfg.Camera.ID, cfg.Camera.FeedRateLimit, cfg.Camera.FeedBurst, metrics)

	daily := export.NewDailyExporter(store, clock, cfg.Exports.DailyDir)
	rolling := export.NewRollingExporter(cfg.Exports.DailyDir, cfg.Exports.SummaryDir, cfg.Exports.RollingDays)
	sweeper := export.NewSweeper(cfg.Exports.DailyDir, cfg.Exports.RetentionDays)
	exports := export.NewRunner(daily, rolling, sweeper)
	exports.Metrics = metrics

	sender, err := alerts.SenderFor(cfg.Alerts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build alert sender: %w", err)
	}
	alertMgr := alerts.NewManager(store, clock, sender, alerts.Config{
		Enabled:    cfg.Alerts.Enabled,
		Interval:   cfg.Alerts.Interval(),
		FirstDelay: cfg.Alerts.FirstDelay(),
		CameraID:   cfg.Camera.ID,
	})
	alertMgr.Metrics = metrics

	m := &Monitor{
		cfg:      cfg,
		version:  version,
		store:    store,
		clock:    clock,
		pipeline: pipeline,
		feed:     feed,
		phases:   phase.NewManager(store, clock, exports),
		alerts:   alertMgr,
		exports:  exports,
		metrics:  metrics,
	}

	server, err := httpapi.NewServer(httpapi.DefaultConfig(cfg.HTTP.ListenAddr), m, feed, registry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	m.server = server

	sched := scheduler.New(clock.Location())
	jobs := []scheduler.Job{
		{Name: "phase", Every: time.Minute, Run: m.phaseTick},
		{Name: "alerts", Every: cfg.Alerts.Interval(), Run: m.alerts.Tick},
		{Name: "exports", Every: cfg.Exports.Interval(), Run: m.exportTick},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to register job: %w", err)
		}
	}
	m.sched = sched
	return m, nil
}

// Run starts every worker and blocks until ctx ends or the HTTP listener
// fails, then shuts down in stages: intake first, then the queue drain,
// then one final export pass.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	m.startedAt = time.Now()

	log.Info().
		Str("version", m.version).
		Str("camera_id", m.cfg.Camera.ID).
		Str("listen_addr", m.cfg.HTTP.ListenAddr).
		Str("timezone", m.clock.Location().String()).
		Msg("monitor starting")

	workers, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.pipeline.Run(workers)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.exports.Run(workers)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.sched.Start(workers)
	}()

	if m.cfg.Camera.ReplayPath != "" {
		replay := ingest.NewReplay(m.cfg.Camera.ReplayPath, m.cfg.Camera.ReplayPaced, m.pipeline)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replay.Run(workers); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("replay source failed")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- m.server.Start() }()

	// catch the workbook up for today right away rather than waiting for
	// the first half-hour boundary
	m.exports.RequestDaily(m.today())

	selfTest := time.AfterFunc(selfTestDelay, m.selfTestMarker)
	defer selfTest.Stop()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	m.shutdown(stopWorkers, &wg)
	return runErr
}

func (m *Monitor) shutdown(stopWorkers context.CancelFunc, wg *sync.WaitGroup) {
	log.Info().Msg("monitor shutting down")

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.server.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	cancel()
	m.feed.Close()

	if drained := m.pipeline.Drain(10 * time.Second); drained > 0 {
		log.Info().Int("frames", drained).Msg("drained frame queue")
	}

	stopWorkers()
	wg.Wait()

	exportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	m.exports.FinalExport(exportCtx, m.today())
	cancel()

	if err := m.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	log.Info().Msg("monitor stopped")
}

// phaseTick advances the daily lifecycle, then refreshes the occupancy
// gauges from the state the tick just settled.
func (m *Monitor) phaseTick(ctx context.Context) error {
	if err := m.phases.Tick(ctx); err != nil {
		return err
	}
	m.refreshGauges(ctx)
	return nil
}

func (m *Monitor) exportTick(ctx context.Context) error {
	m.exports.RequestDaily(m.today())
	return nil
}

// selfTestMarker writes one synthetic event when the store is still empty
// a minute after startup, proving the write path end to end.
func (m *Monitor) selfTestMarker() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := m.store.CountEvents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("self-test count failed")
		return
	}
	if n > 0 {
		return
	}
	if _, err := m.store.AppendEvent(ctx, time.Now().In(m.clock.Location()), string(domain.DirectionIn), "self_test", 0); err != nil {
		log.Error().Err(err).Msg("self-test marker write failed")
		return
	}
	log.Info().Msg("store was empty at startup, self-test marker written")
}

func (m *Monitor) today() string {
	return persistence.DateOf(time.Now().In(m.clock.Location()))
}

// gateConfig maps the YAML gate section onto the counter's config.
func gateConfig(g config.GateConfig) gate.Config {
	return gate.Config{
		Mode:            gate.Mode(g.Mode),
		GateY:           g.GateY,
		GateHeight:      g.GateHeight,
		GateXMin:        g.GateXMin,
		GateXMax:        g.GateXMax,
		P1:              domain.Point{X: g.P1X, Y: g.P1Y},
		P2:              domain.Point{X: g.P2X, Y: g.P2Y},
		Thickness:       g.GateThickness,
		Cooldown:        g.Cooldown(),
		MinFramesInGate: g.MinFramesInGate,
		MinTravelPx:     g.MinTravelPx,
		TopBottom:       domain.Direction(g.DirectionTopBottom),
		BottomTop:       domain.Direction(g.DirectionBottomTop),
		LeftRight:       domain.Direction(g.DirectionLeftRight),
		RightLeft:       domain.Direction(g.DirectionRightLeft),
	}
}
