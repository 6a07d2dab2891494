package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

func waitForStatus(t *testing.T, srv *Server, id string, want RunStatus) *Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.RLock()
		run := srv.runs[id]
		srv.mu.RUnlock()
		if run != nil && run.Status == want {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", id, want)
	return nil
}

func TestHandleCreateRunQueuesAndCompletesSuccessfully(t *testing.T) {
	exec := func(ctx context.Context, run *Run) (*rsuite.AggregatedResult, error) {
		return &rsuite.AggregatedResult{ProjectName: "demo"}, nil
	}
	srv := New(exec, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(RunRequest{ProjectPath: "./suites"})
	resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, RunQueued, created.Status)

	final := waitForStatus(t, srv, created.ID, RunSucceeded)
	require.NotNil(t, final.Result)
	assert.Equal(t, "demo", final.Result.ProjectName)
}

func TestHandleCreateRunRecordsExecutorError(t *testing.T) {
	exec := func(ctx context.Context, run *Run) (*rsuite.AggregatedResult, error) {
		return nil, assertErr("boom")
	}
	srv := New(exec, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(RunRequest{ProjectPath: "./suites"})
	resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var created Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	final := waitForStatus(t, srv, created.ID, RunFailed)
	assert.Equal(t, "boom", final.Error)
}

func TestHandleRetryRunReusesSameRunID(t *testing.T) {
	var attempts int
	exec := func(ctx context.Context, run *Run) (*rsuite.AggregatedResult, error) {
		attempts++
		return &rsuite.AggregatedResult{ProjectName: "demo"}, nil
	}
	srv := New(exec, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(RunRequest{ProjectPath: "./suites"})
	resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var created Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	waitForStatus(t, srv, created.ID, RunSucceeded)

	resp, err = http.Post(ts.URL+"/runs/"+created.ID+"/retry", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var retried Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&retried))
	assert.Equal(t, created.ID, retried.ID)

	waitForStatus(t, srv, created.ID, RunSucceeded)
	assert.Equal(t, 2, attempts)

	srv.mu.RLock()
	count := 0
	for _, id := range srv.order {
		if id == created.ID {
			count++
		}
	}
	srv.mu.RUnlock()
	assert.Equal(t, 1, count)
}

func TestHandleGetRunNotFound(t *testing.T) {
	srv := New(func(ctx context.Context, run *Run) (*rsuite.AggregatedResult, error) { return nil, nil }, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartBindsGivenLoopbackAddress(t *testing.T) {
	srv := New(nil, nil)
	port, shutdown, err := srv.Start("127.0.0.1", 0)
	require.NoError(t, err)
	defer shutdown()
	assert.NotZero(t, port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleHealthOK(t *testing.T) {
	srv := New(nil, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Nil(t, body["activeRunId"])
}

func TestCORSMiddlewareSetsHeadersAndHandlesPreflight(t *testing.T) {
	srv := New(nil, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
