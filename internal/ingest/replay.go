package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/domain"
	gwio "github.com/sawpanic/gatewatch/internal/io"
)

// maxPaceGap caps inter-frame sleeps during paced replay so a recording
// with an overnight hole does not stall the run.
const maxPaceGap = 5 * time.Second

// Replay feeds recorded frames from a JSONL capture. Paced mode sleeps the
// original inter-frame gaps; unpaced mode pushes as fast as the sink takes.
type Replay struct {
	path  string
	paced bool
	sink  Submitter
	sleep func(time.Duration)
}

// NewReplay builds a replay source over the capture at path.
func NewReplay(path string, paced bool, sink Submitter) *Replay {
	return &Replay{path: path, paced: paced, sink: sink, sleep: time.Sleep}
}

// Run pushes every frame in the capture, stopping early if ctx ends.
// Malformed lines are skipped with a warning, not fatal.
func (r *Replay) Run(ctx context.Context) error {
	start := time.Now()
	submitted, skipped := 0, 0
	var last time.Time

	err := gwio.ForEachJSONLine(r.path, func(line []byte) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var frame domain.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			skipped++
			log.Warn().Err(err).Str("path", r.path).Msg("skipping malformed replay line")
			return nil
		}

		if r.paced && !last.IsZero() {
			if gap := frame.TS.Sub(last); gap > 0 {
				r.sleep(min(gap, maxPaceGap))
			}
		}
		last = frame.TS

		r.sink.Submit(frame)
		submitted++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay of %s failed: %w", r.path, err)
	}

	log.Info().
		Str("path", r.path).
		Int("frames", submitted).
		Int("skipped", skipped).
		Dur("elapsed", time.Since(start)).
		Msg("replay finished")
	return nil
}
