package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatewatch/internal/telemetry"
)

type fakeSource struct {
	status    Status
	statusErr error
	healthErr error
}

func (f *fakeSource) Status(context.Context) (Status, error) { return f.status, f.statusErr }
func (f *fakeSource) Healthy(context.Context) error          { return f.healthErr }

func newTestServer(t *testing.T, source *fakeSource, feed http.Handler, g prometheus.Gatherer) *httptest.Server {
	t.Helper()
	s, err := NewServer(DefaultConfig("127.0.0.1:0"), source, feed, g)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestStatusEndpoint(t *testing.T) {
	source := &fakeSource{status: Status{
		Service:  "gatewatch",
		Version:  "1.2.3",
		Date:     "2025-03-10",
		Phase:    "AFTERNOON_MONITORING",
		CameraID: "camera_01",
		Baseline: 12,
		Present:  10,
		Missing:  2,
		MissingPeriod: &MissingPeriodStatus{
			Session:     "afternoon",
			StartTime:   time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
			DurationMin: 45,
			Missing:     2,
		},
	}}
	srv := newTestServer(t, source, nil, nil)

	resp, body := get(t, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var got Status
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "gatewatch", got.Service)
	assert.Equal(t, 2, got.Missing)
	require.NotNil(t, got.MissingPeriod)
	assert.Equal(t, 45, got.MissingPeriod.DurationMin)
}

func TestStatusEndpointFailure(t *testing.T) {
	source := &fakeSource{statusErr: errors.New("store closed")}
	srv := newTestServer(t, source, nil, nil)

	resp, body := get(t, srv.URL+"/api/status")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "status unavailable")
}

func TestHealthz(t *testing.T) {
	source := &fakeSource{}
	srv := newTestServer(t, source, nil, nil)

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestHealthzDegraded(t *testing.T) {
	source := &fakeSource{healthErr: errors.New("database is locked")}
	srv := newTestServer(t, source, nil, nil)

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "degraded")
	assert.Contains(t, string(body), "database is locked")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.ObserveFrame(time.Millisecond)

	srv := newTestServer(t, &fakeSource{}, nil, reg)

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gatewatch_frames_total 1")
}

func TestFeedRouteMounted(t *testing.T) {
	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := newTestServer(t, &fakeSource{}, feed, nil)

	resp, _ := get(t, srv.URL+"/feed")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	srv := newTestServer(t, &fakeSource{}, nil, nil)

	resp, body := get(t, srv.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"not found"`)
}
