package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgersync/internal/config"
	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/source"
	"github.com/JonMunkholm/ledgersync/internal/store"
	"github.com/JonMunkholm/ledgersync/internal/syncclient"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *core.Engine) {
	t.Helper()

	settings := core.DefaultSettings()
	settings.RealTimeSync.Enabled = false
	settings.Workflows.BatchPause = 0

	reg := prometheus.NewRegistry()
	client := syncclient.ClientFunc(func(_ context.Context, v model.LedgerVoucher) syncclient.SendResult {
		return syncclient.SendResult{Success: true, ExternalID: "ext-" + v.ID}
	})
	engine, err := core.NewEngine(settings, core.Deps{
		Sources: source.NewRegistry(),
		Client:  client,
		Queue:   store.NewMemory(),
		Metrics: reg,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Initialize(context.Background()))

	srv, err := NewServer(engine, cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = engine.Shutdown(context.Background())
	})
	return srv, engine
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestDataEntryWorkflow(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	body := `{
		"documents": [
			{"rawPayload": {"date": "2024-01-15", "amount": "1500", "ledger": "Office Supplies"}},
			{"fileName": "scan.json", "rawPayload": {"memo": "illegible"}}
		]
	}`
	rec := do(t, srv, http.MethodPost, "/api/workflows/data-entry", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[model.Results](t, rec)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Synced, "autoSync defaults to on")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "scan.json", res.Errors[0].FileName)

	rec = do(t, srv, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	wfs := decode[[]model.Workflow](t, rec)
	require.Len(t, wfs, 1)
	assert.Equal(t, model.WorkflowCompleted, wfs[0].Status)

	rec = do(t, srv, http.MethodGet, "/api/workflows/"+wfs[0].ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorResponses(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown workflow", http.MethodGet, "/api/workflows/nope", "", http.StatusNotFound, "WF003"},
		{"malformed body", http.MethodPost, "/api/workflows/data-entry", `{"documents":`, http.StatusBadRequest, "VAL001"},
		{"invalid options", http.MethodPost, "/api/workflows/data-entry", `{"options":{"validationLevel":"loose"}}`, http.StatusBadRequest, "VAL001"},
		{"unknown source", http.MethodPost, "/api/workflows/collection", `{"types":["fax"]}`, http.StatusBadRequest, "SRC001"},
		{"unknown rule", http.MethodPost, "/api/rules/nope/enable", "", http.StatusNotFound, "RULE001"},
		{"invalid rule", http.MethodPost, "/api/rules", `{"name":"x","triggers":["email"],"actions":["explode"]}`, http.StatusBadRequest, "RULE002"},
		{"bad schedule", http.MethodPost, "/api/rules", `{"name":"x","triggers":["email"],"actions":["sync"],"schedule":"often"}`, http.StatusBadRequest, "RULE002"},
		{"unknown conflict", http.MethodPost, "/api/conflicts/nope/acknowledge", `{"versionId":"v1"}`, http.StatusNotFound, "SYNC004"},
		{"unknown voucher", http.MethodPost, "/api/sync/failed/nope/retry", "", http.StatusNotFound, "SYNC002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestRulesLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/rules",
		`{"name":"nightly sync","triggers":["email"],"actions":["sync"],"schedule":"1h","enabled":false}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decode[model.AutomationRule](t, rec)
	assert.False(t, rule.Enabled)
	assert.Equal(t, time.Hour, rule.Schedule)

	rec = do(t, srv, http.MethodPost, "/api/rules/"+rule.ID+"/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.AutomationRule](t, rec).Enabled)

	rec = do(t, srv, http.MethodPost, "/api/rules/"+rule.ID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ran := decode[model.AutomationRule](t, rec)
	assert.Equal(t, 1, ran.RunCount)
	assert.NotNil(t, ran.LastRun)

	rec = do(t, srv, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.AutomationRule](t, rec), 1)
}

func TestSyncEndpoints(t *testing.T) {
	srv, engine := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/sync/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[core.CycleReport](t, rec)
	assert.True(t, report.Skipped, "empty queue")

	rec = do(t, srv, http.MethodPost, "/api/sync/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, engine.GetAutomationStats().RealTimeSyncEnabled)

	rec = do(t, srv, http.MethodPost, "/api/sync/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, engine.GetAutomationStats().RealTimeSyncEnabled)

	rec = do(t, srv, http.MethodGet, "/api/sync/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/conflicts?all=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["isInitialized"])
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "config")
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "limiter")
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	srv, _ := newTestServer(t, cfg)

	rec := do(t, srv, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer k2")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	srv, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	do(t, srv, http.MethodGet, "/api/workflows", "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ledgersync_http_requests_total{method="GET",route="/api/workflows",status="200"} 1`)
}

func TestEventStream(t *testing.T) {
	srv, engine := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?types=workflowStarted", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	engine.Events().Publish(core.EventWorkflowProgress, core.ProgressPayload{WorkflowID: "skip"})
	engine.Events().Publish(core.EventWorkflowStarted, core.WorkflowStartedPayload{WorkflowID: "wf-1"})

	var got []string
	for len(got) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			got = append(got, line)
		}
	}
	assert.Equal(t, "id: 1", got[0])
	assert.Equal(t, "event: workflowStarted", got[1])
	assert.Contains(t, got[2], `"workflowId":"wf-1"`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotInitialized, http.StatusServiceUnavailable},
		{core.ErrTooManyWorkflows, http.StatusTooManyRequests},
		{core.ErrWorkflowDisabled, http.StatusConflict},
		{store.ErrInvalidTransition, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
