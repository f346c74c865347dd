package airflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// fakeExecutor is a minimal workflow executor covering both API variants.
type fakeExecutor struct {
	t *testing.T

	version       string // reported by /api/v2/version; empty = 404
	tokenRequests atomic.Int32
	rejectToken   string // bearer token to reject with 401

	lastAuth        string
	lastBody        map[string]any
	runState        string
	versionRequests atomic.Int32
}

func (f *fakeExecutor) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v2/version", func(w http.ResponseWriter, r *http.Request) {
		f.versionRequests.Add(1)
		if f.version == "" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"version": f.version})
	})

	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenRequests.Add(1)
		var creds map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(f.t, "svc", creds["username"])
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-" + itoa(n)})
	})

	handleRuns := func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		if f.rejectToken != "" && f.lastAuth == "Bearer "+f.rejectToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			f.lastBody = map[string]any{}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastBody))
			json.NewEncoder(w).Encode(map[string]string{"dag_run_id": f.lastBody["dag_run_id"].(string)})
			return
		}
		state := f.runState
		if state == "" {
			state = "success"
		}
		json.NewEncoder(w).Encode(map[string]string{"state": state})
	}
	mux.HandleFunc("/api/v1/dags/", handleRuns)
	mux.HandleFunc("/api/v2/dags/", handleRuns)

	return mux
}

func itoa(n int32) string {
	return string(rune('0' + n))
}

func newTestClient(t *testing.T, f *fakeExecutor, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:  srv.URL,
		Username: "svc",
		Password: "secret",
		DagID:    "apply_permission",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestDetectBearerVariant(t *testing.T) {
	f := &fakeExecutor{t: t, version: "3.0.1"}
	c := newTestClient(t, f, nil)

	runID, err := c.SubmitRun(t.Context(), "run-1", SubmitConf{CSVFile: "x.csv"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.True(t, strings.HasPrefix(f.lastAuth, "Bearer "))
	assert.Contains(t, f.lastBody, "logical_date", "bearer variant sends a logical date")
	assert.Equal(t, int32(1), f.tokenRequests.Load())
}

func TestDetectBasicVariantOnOldVersion(t *testing.T) {
	f := &fakeExecutor{t: t, version: "2.10.4"}
	c := newTestClient(t, f, nil)

	_, err := c.SubmitRun(t.Context(), "run-1", SubmitConf{CSVFile: "x.csv"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.lastAuth, "Basic "))
	assert.NotContains(t, f.lastBody, "logical_date")
	assert.Equal(t, int32(0), f.tokenRequests.Load())
}

func TestV1PathPinsBasicWithoutProbe(t *testing.T) {
	f := &fakeExecutor{t: t, version: "3.0.1"}
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.BaseURL = cfg.BaseURL + "/api/v1"
	})

	_, err := c.SubmitRun(t.Context(), "run-1", SubmitConf{CSVFile: "x.csv"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.lastAuth, "Basic "))
	assert.Equal(t, int32(0), f.versionRequests.Load(), "pinned variant skips detection")
}

func TestForcedVariantSkipsDetection(t *testing.T) {
	f := &fakeExecutor{t: t, version: "3.0.1"}
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.APIVariant = "v2"
	})

	_, err := c.SubmitRun(t.Context(), "run-1", SubmitConf{CSVFile: "x.csv"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.lastAuth, "Bearer "))
	assert.Equal(t, int32(0), f.versionRequests.Load())
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	f := &fakeExecutor{t: t, version: "3.0.1"}
	c := newTestClient(t, f, nil)

	for i := 0; i < 3; i++ {
		_, err := c.GetRun(t.Context(), "run-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenRequests.Load())
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	f := &fakeExecutor{t: t, version: "3.0.1", rejectToken: "tok-1"}
	c := newTestClient(t, f, nil)

	state, err := c.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, int32(2), f.tokenRequests.Load(), "exactly one refresh after 401")
}

func TestUnauthorizedAfterRefreshIsTransient(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/api/v2/dags/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Username: "svc", Password: "s", DagID: "d", APIVariant: "v2"})
	require.NoError(t, err)

	_, err = c.GetRun(t.Context(), "run-1")
	require.Error(t, err)
	assert.Equal(t, models.FaultTransient, models.KindOf(err), "second 401 leaves the caller's retry budget in charge")
	assert.Equal(t, int32(2), tokenRequests.Load(), "initial token plus exactly one refresh")
}

func TestGetRunStates(t *testing.T) {
	f := &fakeExecutor{t: t, version: "2.10.4", runState: "running"}
	c := newTestClient(t, f, nil)

	state, err := c.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
	assert.False(t, state.IsTerminal())

	f.runState = "failed"
	state, err = c.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.True(t, state.IsTerminal())
	assert.False(t, state.Succeeded())
}

func TestUnknownStateIsNonTerminal(t *testing.T) {
	assert.False(t, RunState("deferred").IsTerminal())
	assert.True(t, StateSkipped.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}

func TestWaitForRunTimesOut(t *testing.T) {
	f := &fakeExecutor{t: t, version: "2.10.4", runState: "queued"}
	c := newTestClient(t, f, nil)

	_, err := c.WaitForRun(t.Context(), "run-1", 50*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, models.FaultTransient, models.KindOf(err))
}

func TestWaitForRunCompletes(t *testing.T) {
	f := &fakeExecutor{t: t, version: "2.10.4", runState: "success"}
	c := newTestClient(t, f, nil)

	state, err := c.WaitForRun(t.Context(), "run-1", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api/v1", Username: "svc", Password: "s", DagID: "d"})
	require.NoError(t, err)

	_, err = c.GetRun(t.Context(), "run-1")
	require.Error(t, err)
	assert.Equal(t, models.FaultTransient, models.KindOf(err))
}

func TestUnreachableExecutorIsTransient(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1/api/v1", Username: "svc", Password: "s", DagID: "d"})
	require.NoError(t, err)

	_, err = c.SubmitRun(t.Context(), "run-1", SubmitConf{CSVFile: "x.csv"})
	require.Error(t, err)
	assert.Equal(t, models.FaultTransient, models.KindOf(err))
}
