package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReplaySubmitsEveryGoodLine(t *testing.T) {
	path := writeCapture(t,
		`{"ts":"2025-03-10T09:00:00Z","camera_id":"camera_01","tracks":[{"id":1,"x1":0,"y1":0,"x2":10,"y2":10}]}`,
		`garbage line`,
		`{"ts":"2025-03-10T09:00:01Z","camera_id":"camera_01","tracks":[]}`,
	)

	sink := &fakeSink{}
	r := NewReplay(path, false, sink)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, int64(1), sink.frames[0].Tracks[0].ID)
}

func TestReplayPacingFollowsTimestamps(t *testing.T) {
	path := writeCapture(t,
		`{"ts":"2025-03-10T09:00:00Z","tracks":[]}`,
		`{"ts":"2025-03-10T09:00:02Z","tracks":[]}`,
		`{"ts":"2025-03-10T09:01:00Z","tracks":[]}`,
	)

	sink := &fakeSink{}
	r := NewReplay(path, true, sink)
	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, slept, 2)
	assert.Equal(t, 2*time.Second, slept[0])
	// the 58 s hole gets capped
	assert.Equal(t, maxPaceGap, slept[1])
}

func TestReplayStopsOnContextCancel(t *testing.T) {
	path := writeCapture(t,
		`{"ts":"2025-03-10T09:00:00Z","tracks":[]}`,
		`{"ts":"2025-03-10T09:00:01Z","tracks":[]}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &fakeSink{}
	err := NewReplay(path, false, sink).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sink.count())
}

func TestReplayMissingFileFails(t *testing.T) {
	err := NewReplay(filepath.Join(t.TempDir(), "absent.jsonl"), false, &fakeSink{}).Run(context.Background())
	assert.Error(t, err)
}
