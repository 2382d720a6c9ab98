package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/telemetry"
)

// maxFrameBytes bounds one feed message; a frame with hundreds of tracks
// stays well under this.
const maxFrameBytes = 1 << 20

// Submitter is where accepted frames go.
type Submitter interface {
	Submit(frame domain.Frame)
}

// Feed accepts tracker frames over a WebSocket. The tracker is one camera
// process, so a reconnect supersedes the previous socket instead of
// running beside it.
type Feed struct {
	sink     Submitter
	cameraID string
	limit    rate.Limit
	burst    int
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time

	mu     sync.Mutex
	active *feedConn
}

type feedConn struct {
	id string
	ws *websocket.Conn
}

// NewFeed builds the feed endpoint. ratePerSec at or below zero disables
// rate limiting.
func NewFeed(sink Submitter, cameraID string, ratePerSec float64, burst int, metrics *telemetry.Metrics) *Feed {
	limit := rate.Limit(ratePerSec)
	if ratePerSec <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Feed{
		sink:     sink,
		cameraID: cameraID,
		limit:    limit,
		burst:    burst,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the tracker connects from the same host, not a browser
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("feed upgrade failed")
		return
	}
	conn := &feedConn{id: uuid.NewString(), ws: ws}
	f.adopt(conn)
	f.metrics.RecordFeedConnection()
	log.Info().Str("conn_id", conn.id).Str("remote", r.RemoteAddr).Msg("feed connected")
	f.readLoop(conn)
}

// Close drops the live connection, if any. Called at shutdown after the
// listener stops accepting; Server.Shutdown leaves hijacked sockets alone.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil {
		_ = f.active.ws.Close()
		f.active = nil
	}
}

func (f *Feed) adopt(conn *feedConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil {
		log.Warn().
			Str("old_conn_id", f.active.id).
			Str("new_conn_id", conn.id).
			Msg("feed reconnected, superseding previous connection")
		_ = f.active.ws.Close()
	}
	f.active = conn
}

func (f *Feed) release(conn *feedConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == conn {
		f.active = nil
	}
}

func (f *Feed) readLoop(conn *feedConn) {
	defer func() {
		_ = conn.ws.Close()
		f.release(conn)
		log.Info().Str("conn_id", conn.id).Msg("feed disconnected")
	}()

	conn.ws.SetReadLimit(maxFrameBytes)
	limiter := rate.NewLimiter(f.limit, f.burst)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				f.metrics.RecordFeedDrop("oversize")
				log.Warn().Str("conn_id", conn.id).Int("limit", maxFrameBytes).Msg("frame exceeds read limit, closing feed")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Warn().Err(err).Str("conn_id", conn.id).Msg("feed read failed")
			}
			return
		}

		if !limiter.Allow() {
			f.metrics.RecordFeedDrop("rate_limit")
			continue
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.metrics.RecordFeedDrop("bad_json")
			log.Warn().Err(err).Str("conn_id", conn.id).Msg("dropping malformed frame")
			continue
		}

		if frame.TS.IsZero() {
			frame.TS = f.now()
		}
		if frame.CameraID == "" {
			frame.CameraID = f.cameraID
		}
		f.sink.Submit(frame)
	}
}
