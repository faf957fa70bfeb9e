package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/detect"
	"github.com/fyrsmithlabs/lockwatchd/internal/ledger"
	"github.com/fyrsmithlabs/lockwatchd/internal/orchestrator"
)

// fakeCycler returns canned cycle results.
type fakeCycler struct {
	report   *orchestrator.CycleReport
	cycleErr error
	cleaned  int
}

func (f *fakeCycler) RunCycle(context.Context) (*orchestrator.CycleReport, error) {
	if f.cycleErr != nil {
		return nil, f.cycleErr
	}
	return f.report, nil
}

func (f *fakeCycler) RunDecaySweep(context.Context) (int, error) {
	return f.cleaned, nil
}

func newTestServer(t *testing.T) (*Server, ledger.Service, *fakeCycler) {
	t.Helper()

	led, err := ledger.New(&ledger.Config{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	cycler := &fakeCycler{report: &orchestrator.CycleReport{CycleID: "cycle-1"}}
	srv := New(Config{Port: 0, ShutdownTimeout: time.Second}, led, cycler, zap.NewNop())
	return srv, led, cycler
}

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "lockwatchd", resp.Service)
}

func TestMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatsAndRecords(t *testing.T) {
	srv, led, _ := newTestServer(t)

	_, err := led.ApplyEscalation(context.Background(), detect.Violation{
		UnitID: "unit-1", LockID: "101", HolderID: "04AA",
	})
	require.NoError(t, err)

	rec := do(srv, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalIdentities)
	assert.Equal(t, 1, stats.WithStrike1)

	rec = do(srv, http.MethodGet, "/v1/records")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "04AA")
}

func TestCheck(t *testing.T) {
	srv, _, cycler := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/check")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycle-1")

	cycler.cycleErr = errors.New("lock service down")
	rec = do(srv, http.MethodPost, "/v1/check")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDecay(t *testing.T) {
	srv, _, cycler := newTestServer(t)
	cycler.cleaned = 3

	rec := do(srv, http.MethodPost, "/v1/decay")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"records_cleaned":3`)
}

func TestReset(t *testing.T) {
	srv, led, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/reset/04AA")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := led.ApplyEscalation(context.Background(), detect.Violation{
		UnitID: "unit-1", LockID: "101", HolderID: "04AA",
	})
	require.NoError(t, err)

	rec = do(srv, http.MethodPost, "/v1/reset/04AA")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGracefulShutdown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
