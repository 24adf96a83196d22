package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/robotd/internal/application/orchestrator"
	"github.com/aescanero/robotd/internal/application/workers"
	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/pkg/adapters/events/memory"
	"github.com/aescanero/robotd/pkg/adapters/runtime/quickjs"
	"github.com/aescanero/robotd/pkg/adapters/runtimepool"
	storage "github.com/aescanero/robotd/pkg/adapters/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testRobots = map[string]string{
	"demo/echo.js": `return args;`,
	"demo/noop.js": `var x = 1;`,
	"demo/fail.js": `throw new Error("no invoices found");`,
	"demo/spin.js": `while (true) {}`,
	"demo/bad.js":  `return {;`,
}

type testAPI struct {
	server *Server
	pool   *workers.Pool
}

// newTestAPI wires the HTTP server to a real QuickJS runtime pool over a
// temporary robots directory.
func newTestAPI(t *testing.T, maxSize int) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	dir := t.TempDir()
	for name, src := range testRobots {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}

	ctx := context.Background()
	runtimes, err := runtimepool.New(ctx,
		quickjs.NewFactory(quickjs.Config{MemoryLimitMB: 32, AbortTimeout: 5 * time.Second}, logger),
		runtimepool.Config{MaxTotal: maxSize, MaxIdle: maxSize},
		logger)
	require.NoError(t, err)

	pool := workers.NewPool(maxSize, dir, runtimes, nil, logger, 5*time.Second)
	manager := orchestrator.NewManager(pool, orchestrator.NewValidator(),
		memory.NewInMemoryEventBus(), storage.NewInMemoryWorkerStore(), logger, 0)
	t.Cleanup(func() {
		_ = manager.Shutdown(ctx)
		runtimes.Close(ctx)
	})

	return &testAPI{
		server: NewServer(&Config{
			Manager: manager,
			Health:  workers.NewHealthMonitor(pool, time.Minute, logger),
			Metrics: http.NotFoundHandler(),
			Version: "test",
			Logger:  logger,
		}),
		pool: pool,
	}
}

func (a *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) allocate(t *testing.T, robot string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/workers?robotFullyQualifiedName="+robot, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AllocateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "/api/v1/workers/"+resp.WorkerID, rec.Header().Get("Location"))
	return resp.WorkerID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestPingAndHealth(t *testing.T) {
	api := newTestAPI(t, 2)

	rec := api.do(t, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"name":"robotd","version":"test"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestWorkerRunLifecycle(t *testing.T) {
	api := newTestAPI(t, 2)
	id := api.allocate(t, "demo.echo")

	rec := api.do(t, http.MethodGet, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var record domain.WorkerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, "demo.echo", record.Robot)
	require.Equal(t, "IDLE", record.State)

	rec = api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", `{"customer":"acme","items":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.False(t, run.Aborted)
	require.Equal(t, map[string]interface{}{
		"customer": "acme",
		"items":    []interface{}{1.0, 2.0},
	}, run.Result)

	// No body means no parameters.
	rec = api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", `[1,2]`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_PARAMETERS", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/v1/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":1`)
	require.Contains(t, rec.Body.String(), `"runs":2`)

	rec = api.do(t, http.MethodDelete, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "WORKER_NOT_FOUND", errorCode(t, rec))
}

func TestRunWithoutResult(t *testing.T) {
	api := newTestAPI(t, 1)
	id := api.allocate(t, "demo.noop")

	rec := api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAllocateErrors(t *testing.T) {
	api := newTestAPI(t, 1)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"missing name", "/api/v1/workers", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed name", "/api/v1/workers?robotFullyQualifiedName=a..b", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown robot", "/api/v1/workers", `{"robot":"demo.missing"}`, http.StatusNotFound, "ROBOT_NOT_FOUND"},
		{"compile error", "/api/v1/workers?robotFullyQualifiedName=demo.bad", "", http.StatusConflict, "COMPILE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	api.allocate(t, "demo.echo")
	rec := api.do(t, http.MethodPost, "/api/v1/workers?robotFullyQualifiedName=demo.echo", "")
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
	require.Equal(t, "POOL_EXHAUSTED", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/v1/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"size":1,"capacity":1,"leaked":0}`, rec.Body.String())
}

func TestRunFailureLeavesWorkerInRuntimeError(t *testing.T) {
	api := newTestAPI(t, 1)
	id := api.allocate(t, "demo.fail")

	rec := api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "RUNTIME_ERROR", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INVALID_STATE", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The failed runtime was destroyed and its slot is usable again.
	api.allocate(t, "demo.echo")
}

func TestStopRunningWorker(t *testing.T) {
	api := newTestAPI(t, 1)
	id := api.allocate(t, "demo.spin")

	rec := api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code, "nothing to stop")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/run", "")
	}()

	wid, err := workers.ParseWorkerID(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		w, err := api.pool.Worker(wid)
		return err == nil && w.State() == workers.StateRunning
	}, 5*time.Second, time.Millisecond)

	rec = api.do(t, http.MethodDelete, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusConflict, rec.Code, "a running worker cannot be released")

	rec = api.do(t, http.MethodPost, "/api/v1/workers/"+id+"/stop", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	select {
	case rec = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after stop")
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.True(t, run.Aborted)

	rec = api.do(t, http.MethodDelete, "/api/v1/workers/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMalformedWorkerID(t *testing.T) {
	api := newTestAPI(t, 1)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/workers/nope"},
		{http.MethodDelete, "/api/v1/workers/nope"},
		{http.MethodPost, "/api/v1/workers/nope/run"},
		{http.MethodPost, "/api/v1/workers/nope/stop"},
	} {
		rec := api.do(t, tc.method, tc.path, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
		require.Equal(t, "INVALID_WORKER_ID", errorCode(t, rec))
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, 1)

	rec := api.do(t, http.MethodOptions, "/api/v1/workers", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
