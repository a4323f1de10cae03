package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/ethpandaops/paddles/pkg/runname"
	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testRunName = "teuthology-2014-03-13_01:00:03-rados-dumpling-testing-basic-plana"

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) (*server, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
	}
	cfg.API.Server.Address = "http://paddles.test"

	if mutate != nil {
		mutate(cfg)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := runstore.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))

	srv := &server{
		log:    log,
		cfg:    cfg,
		store:  st,
		parser: runname.NewParser(cfg.Parser.ExtraSuites...),
		done:   make(chan struct{}),
	}

	t.Cleanup(func() {
		close(srv.done)
		_ = st.Stop()
	})

	return srv, srv.buildRouter()
}

func doRequest(
	t *testing.T, h http.Handler, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunAndJobLifecycle(t *testing.T) {
	_, h := newTestServer(t, nil)
	runPath := "/api/v1/runs/" + testRunName

	// Register the run.
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs",
		map[string]string{"name": testRunName})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[RunResponse](t, rec)
	assert.Equal(t, testRunName, created.Name)
	assert.Equal(t, "rados", created.Suite)
	assert.Equal(t, "dumpling", created.Branch)
	assert.Equal(t, runstore.RunStatusFinished, created.Status)
	assert.Equal(t, 0, created.JobsCount)
	assert.Equal(t, "http://paddles.test/runs/"+testRunName+"/", created.Href)
	assert.Equal(t, 2014, created.Scheduled.Year())

	// Duplicate and empty names are rejected.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/runs",
		map[string]string{"name": testRunName})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/runs",
		map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Add jobs.
	rec = doRequest(t, h, http.MethodPost, runPath+"/jobs", map[string]any{
		"job_id": "1", "description": "rados/thrash", "status": "pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	job := decode[JobResponse](t, rec)
	require.NotNil(t, job.Success)
	assert.True(t, *job.Success)
	assert.Equal(t, testRunName, job.Run)

	rec = doRequest(t, h, http.MethodPost, runPath+"/jobs", map[string]any{
		"job_id": "2", "description": "rados/basic", "status": "running",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodPost, runPath+"/jobs", map[string]any{
		"job_id": "3", "status": "pass", "success": false,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, runPath+"/jobs", map[string]any{
		"job_id": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/runs/missing/jobs", map[string]any{
		"job_id": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The run is running while job 2 has no outcome.
	rec = doRequest(t, h, http.MethodGet, runPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[RunResponse](t, rec)
	assert.Equal(t, runstore.RunStatusRunning, got.Status)
	assert.Equal(t, runstore.Results{Pass: 1, Running: 1, Total: 2}, got.Results)
	assert.Equal(t, 2, got.JobsCount)

	// Finish job 2.
	rec = doRequest(t, h, http.MethodPut, runPath+"/jobs/2",
		map[string]any{"status": "dead"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[JobResponse](t, rec)
	assert.Equal(t, runstore.JobStatusDead, updated.Status)
	require.NotNil(t, updated.Success)
	assert.False(t, *updated.Success)
	assert.Equal(t, "rados/basic", updated.Description)

	rec = doRequest(t, h, http.MethodGet, runPath, nil)
	got = decode[RunResponse](t, rec)
	assert.Equal(t, runstore.RunStatusFinished, got.Status)
	assert.Equal(t, runstore.Results{Pass: 1, Dead: 1, Total: 2}, got.Results)

	// Jobs listing and filtering.
	rec = doRequest(t, h, http.MethodGet, runPath+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobResponse](t, rec), 2)

	rec = doRequest(t, h, http.MethodGet, runPath+"/jobs?status=dead", nil)
	dead := decode[[]JobResponse](t, rec)
	require.Len(t, dead, 1)
	assert.Equal(t, "2", dead[0].JobID)

	rec = doRequest(t, h, http.MethodGet, runPath+"/jobs/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rados/thrash", decode[JobResponse](t, rec).Description)

	rec = doRequest(t, h, http.MethodGet, runPath+"/jobs/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Delete.
	rec = doRequest(t, h, http.MethodDelete, runPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, runPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateJob_InvalidBody(t *testing.T) {
	_, h := newTestServer(t, nil)
	runPath := "/api/v1/runs/" + testRunName

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost,
		"/api/v1/runs", map[string]string{"name": testRunName}).Code)
	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost,
		runPath+"/jobs", map[string]any{"job_id": "1"}).Code)

	tests := []struct {
		name string
		body any
	}{
		{name: "unknown field", body: map[string]any{"machine": "plana01"}},
		{name: "wrong type", body: map[string]any{"success": "yes"}},
		{name: "unsupported status", body: map[string]any{"status": "queued"}},
		{name: "conflicting outcome", body: map[string]any{"status": "running", "success": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPut, runPath+"/jobs/1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleListRuns(t *testing.T) {
	_, h := newTestServer(t, nil)

	names := []string{
		"teuthology-2014-03-13_01:00:03-rados-dumpling-testing-basic-plana",
		"teuthology-2014-03-14_01:00:03-rbd-dumpling-testing-basic-plana",
		"teuthology-2014-03-15_01:00:03-rados-master-testing-basic-plana",
	}
	for _, n := range names {
		require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost,
			"/api/v1/runs", map[string]string{"name": n}).Code)
	}

	tests := []struct {
		name     string
		query    string
		wantCode int
		want     []string
	}{
		{name: "all", query: "", wantCode: http.StatusOK, want: []string{names[2], names[1], names[0]}},
		{name: "by suite", query: "?suite=rados", wantCode: http.StatusOK, want: []string{names[2], names[0]}},
		{name: "by branch", query: "?branch=master", wantCode: http.StatusOK, want: []string{names[2]}},
		{name: "second page", query: "?count=2&page=2", wantCode: http.StatusOK, want: []string{names[0]}},
		{name: "invalid count", query: "?count=zero", wantCode: http.StatusBadRequest},
		{name: "invalid page", query: "?page=0", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/runs"+tt.query, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode != http.StatusOK {
				return
			}

			runs := decode[[]RunResponse](t, rec)

			got := make([]string, 0, len(runs))
			for _, r := range runs {
				got = append(got, r.Name)
			}

			assert.Equal(t, tt.want, got)
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/branches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"dumpling", "master"}, decode[[]string](t, rec))

	rec = doRequest(t, h, http.MethodGet, "/api/v1/suites", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rados", "rbd"}, decode[[]string](t, rec))
}

func TestApplyJobUpdate(t *testing.T) {
	yes := true

	tests := []struct {
		name        string
		job         runstore.Job
		fields      map[string]any
		wantStatus  string
		wantSuccess *bool
		wantDesc    string
	}{
		{
			name:       "status only clears previous outcome",
			job:        runstore.Job{Status: runstore.JobStatusPass, Success: &yes},
			fields:     map[string]any{"status": "running"},
			wantStatus: runstore.JobStatusRunning,
		},
		{
			name:        "success only resets status",
			job:         runstore.Job{Status: runstore.JobStatusRunning},
			fields:      map[string]any{"success": true},
			wantStatus:  runstore.JobStatusUnknown,
			wantSuccess: &yes,
		},
		{
			name:       "explicit null clears success",
			job:        runstore.Job{Status: runstore.JobStatusPass, Success: &yes},
			fields:     map[string]any{"success": nil},
			wantStatus: runstore.JobStatusUnknown,
		},
		{
			name:        "description only keeps outcome",
			job:         runstore.Job{Status: runstore.JobStatusPass, Success: &yes},
			fields:      map[string]any{"description": "rados/thrash"},
			wantStatus:  runstore.JobStatusPass,
			wantSuccess: &yes,
			wantDesc:    "rados/thrash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job

			require.NoError(t, applyJobUpdate(&job, tt.fields))
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantSuccess, job.Success)
			assert.Equal(t, tt.wantDesc, job.Description)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Auth.Basic.Enabled = true
	})

	auth, err := newBasicAuth([]config.BasicAuthUser{
		{Username: "scheduler", Password: "s3cret"},
	}, bcrypt.MinCost)
	require.NoError(t, err)

	srv.auth = auth
	h := srv.buildRouter()

	post := func(user, pass string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
			bytes.NewBufferString(`{"name":"`+testRunName+`"}`))
		if user != "" {
			req.SetBasicAuth(user, pass)
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("", ""))
	assert.Equal(t, http.StatusUnauthorized, post("scheduler", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, post("nobody", "s3cret"))
	assert.Equal(t, http.StatusCreated, post("scheduler", "s3cret"))

	// Reads stay anonymous.
	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/"+testRunName, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Server.RateLimit = config.RateLimitConfig{
			Enabled: true,
			Read:    config.RateLimitTier{RequestsPerMinute: 1},
			Write:   config.RateLimitTier{RequestsPerMinute: 1},
		}
	})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health checks are never limited.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:5555", xff: "192.0.2.7", want: "192.0.2.7"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:5555", xff: "192.0.2.7, 10.0.0.2", want: "192.0.2.7"},
		{name: "remote without port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestRunLookupThroughHref(t *testing.T) {
	_, h := newTestServer(t, nil)

	tests := []struct {
		name    string
		runName string
	}{
		{name: "percent sequence", runName: "run%41x"},
		{name: "escaped slash", runName: "team/run1"},
		{name: "space", runName: "my run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/runs",
				map[string]string{"name": tt.runName})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			href, err := url.Parse(decode[RunResponse](t, rec).Href)
			require.NoError(t, err)

			runPath := "/api/v1" + strings.TrimSuffix(href.EscapedPath(), "/")

			rec = doRequest(t, h, http.MethodGet, runPath, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.runName, decode[RunResponse](t, rec).Name)

			rec = doRequest(t, h, http.MethodPost, runPath+"/jobs",
				map[string]any{"job_id": "1", "status": "pass"})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			assert.Equal(t, tt.runName, decode[JobResponse](t, rec).Run)

			rec = doRequest(t, h, http.MethodDelete, runPath, nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}
}

func TestRunHref(t *testing.T) {
	assert.Equal(t,
		"http://paddles.test/runs/my%20run/",
		RunHref("http://paddles.test/", "my run"),
	)
}
