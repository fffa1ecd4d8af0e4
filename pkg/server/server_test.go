package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/ponds"
	"github.com/farmops/pondsync/pkg/ponds/pondstest"
	"github.com/farmops/pondsync/pkg/telemetry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type denyAll struct{}

func (denyAll) Admit(context.Context, ponds.AdmissionInput) ([]string, error) {
	return []string{"closed for maintenance"}, nil
}

type fakeHistory struct {
	pond  string
	limit int
}

func (h *fakeHistory) ListOperations(_ context.Context, pond string, limit int) ([]ponds.OperationRecord, error) {
	h.pond, h.limit = pond, limit
	return []ponds.OperationRecord{{ID: "op-1", Kind: ponds.OpCreate, PondName: "Pond 1", Status: ponds.StatusOK}}, nil
}

func (h *fakeHistory) ListSweepRuns(context.Context, int) ([]ponds.SweepRecord, error) {
	return []ponds.SweepRecord{{ID: "run-1", Trigger: ponds.TriggerTimer, Status: ponds.StatusOK}}, nil
}

type testServer struct {
	fx      pondstest.Fixture
	srv     *Server
	history *fakeHistory
	metrics *telemetry.Metrics
}

func newTestServer(t *testing.T, opts ...ponds.Option) *testServer {
	t.Helper()
	fx := pondstest.Seed(pondstest.NewFakeRemote())
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	require.NoError(t, err)

	opts = append([]ponds.Option{ponds.WithLogger(zerolog.Nop())}, opts...)
	m := ponds.NewManager(fx.Remote, ponds.Config{
		Naming:    ponds.DefaultNaming(),
		Aggregate: ponds.AggregateConfig{Name: pondstest.AggregateName},
	}, opts...)
	sw := ponds.NewSweeper(fx.Remote, ponds.SweepConfig{Logger: zerolog.Nop()})
	h := &fakeHistory{}

	srv := New(m, sw, Config{Logger: zerolog.Nop(), Metrics: metrics, History: h})
	return &testServer{fx: fx, srv: srv, history: h, metrics: metrics}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreatePond(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/ponds", map[string]any{"name": "Pond 1", "x": 100, "y": 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Contains(t, body["message"], "Pond 1")
	assert.Equal(t, float64(3), body["created"])
	assert.Equal(t, false, body["resumed"])
	point := body["point"].(map[string]any)
	assert.Equal(t, "Pond 1", point["name"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestCreatePondErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ponds", map[string]any{"name": "Pond 1", "x": 1, "y": 1})

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"missing coordinates", map[string]any{"name": "Pond 2"}, http.StatusBadRequest},
		{"name not a pond", map[string]any{"name": "Compost", "x": 1, "y": 1}, http.StatusBadRequest},
		{"duplicate", map[string]any{"name": "Pond 1", "x": 1, "y": 1}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/ponds", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestCreatePondPolicyDenied(t *testing.T) {
	ts := newTestServer(t, ponds.WithAdmission(denyAll{}))

	w := ts.do(t, http.MethodPost, "/api/ponds", map[string]any{"name": "Pond 1", "x": 1, "y": 1})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode(t, w)["error"], "closed for maintenance")
}

func TestCreatePondRemoteFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.fx.Remote.Fail(pondstest.OpCreatePoint, "Pond 1", 1, nil)

	w := ts.do(t, http.MethodPost, "/api/ponds", map[string]any{"name": "Pond 1", "x": 1, "y": 1})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
}

func TestUpdatePond(t *testing.T) {
	ts := newTestServer(t)
	pond := ts.fx.AddPond("Pond 1", 0, 0, false)
	measure := ts.fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure Pond 1"})

	w := ts.do(t, http.MethodPatch, "/api/ponds/"+strconv.FormatInt(pond.ID, 10),
		map[string]any{"x": 5, "y": 6, "includeInAggregate": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.NotEmpty(t, body["message"])
	agg := body["aggregate"].(map[string]any)
	assert.Equal(t, ponds.AggregatePatched, agg["action"])
	assert.Equal(t, []any{float64(measure.ID)}, agg["included"])
}

func TestUpdatePondErrors(t *testing.T) {
	ts := newTestServer(t)
	valid := map[string]any{"x": 1, "y": 1, "includeInAggregate": false}

	w := ts.do(t, http.MethodPatch, "/api/ponds/9999", valid)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/ponds/abc", valid)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pond := ts.fx.AddPond("Pond 1", 0, 0, false)
	w = ts.do(t, http.MethodPatch, "/api/ponds/"+strconv.FormatInt(pond.ID, 10), map[string]any{"x": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePond(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/ponds", map[string]any{"name": "Pond 5", "x": 1, "y": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decode(t, w)["point"].(map[string]any)["id"].(float64))

	w = ts.do(t, http.MethodDelete, "/api/ponds/"+strconv.FormatInt(id, 10), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	_, ok := ts.fx.Remote.PointNamed("Pond 5")
	assert.False(t, ok)
	_, ok = ts.fx.Remote.SequenceNamed("Measure Pond 5")
	assert.False(t, ok)

	w = ts.do(t, http.MethodDelete, "/api/ponds/"+strconv.FormatInt(id, 10), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPonds(t *testing.T) {
	ts := newTestServer(t)
	ts.fx.AddPond("Pond 2", 0, 0, false)
	ts.fx.AddPond("Pond 1", 0, 0, true)

	w := ts.do(t, http.MethodGet, "/api/ponds", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decode(t, w)["ponds"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Pond 1", list[0].(map[string]any)["name"])
	assert.Equal(t, "Pond 2", list[1].(map[string]any)["name"])
}

func TestRunSweep(t *testing.T) {
	ts := newTestServer(t)
	ts.fx.AddPond("Pond 1", 0, 0, false)

	w := ts.do(t, http.MethodPost, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, ponds.TriggerManual, body["trigger"])
	assert.Equal(t, float64(3), body["created"])
}

func TestRunSweepRemoteFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.fx.Remote.Fail(pondstest.OpListPoints, "", 1, nil)

	w := ts.do(t, http.MethodPost, "/api/sweep", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/history?pond=Pond+1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Len(t, body["operations"], 1)
	assert.Len(t, body["sweeps"], 1)
	assert.Equal(t, "Pond 1", ts.history.pond)
	assert.Equal(t, 5, ts.history.limit)

	w = ts.do(t, http.MethodGet, "/api/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/ponds", nil)

	w := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pondsync_http_requests_total")
}

type fakeJournal struct{ err error }

func (j fakeJournal) HealthCheck(context.Context) error { return j.err }

func TestHealthReportsJournal(t *testing.T) {
	ts := newTestServer(t)

	ts.srv.cfg.Journal = fakeJournal{}
	w := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["journal"])

	ts.srv.cfg.Journal = fakeJournal{err: errors.New("sql: database is closed")}
	w = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "sql: database is closed", body["journal"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()

	ts.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestServeStopsOnCancel(t *testing.T) {
	ts := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	http.DefaultClient.CloseIdleConnections()
}
