package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/api"
	"github.com/orrn/slicer/internal/config"
	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

const cubeSTL = `solid cube
facet normal 0 0 -1
 outer loop
  vertex 0 0 0
  vertex 10 0 0
  vertex 10 10 0
 endloop
endfacet
facet normal 0 0 1
 outer loop
  vertex 0 0 2
  vertex 10 10 2
  vertex 0 10 2
 endloop
endfacet
endsolid cube
`

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
	Details   json.RawMessage `json:"details"`
}

type nopTester struct{}

func (nopTester) SendTest(context.Context, *db.Webhook) error { return nil }

type testServer struct {
	t      *testing.T
	router *gin.Engine
	engine *core.Engine
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, db.Init(db.Config{Path: filepath.Join(t.TempDir(), "slicer.db")}))
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	for _, opt := range opts {
		opt(cfg)
	}
	catalog, err := core.NewProfileCatalog(cfg.Profiles)
	require.NoError(t, err)

	store := core.NewModelStore(t.TempDir(), cfg.Storage.MaxUploadSize, db.Models.Persister(), logger)
	store.SetBuildVolume(cfg.Jobs.MaxBuildVolume)
	engine := core.NewEngine(core.EngineConfig{
		WorkerCount:      1,
		DispatchInterval: 10 * time.Millisecond,
		SweepInterval:    time.Second,
		BuildVolume:      cfg.Jobs.MaxBuildVolume,
	}, store, core.NewLayerPlanSlicer(0), nil, logger)
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)

	router := api.SetupRouter(api.Dependencies{
		Config:   cfg,
		Engine:   engine,
		Models:   store,
		Profiles: catalog,
		Webhooks: nopTester{},
		Logger:   logger,
	})
	return &testServer{t: t, router: router, engine: engine}
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) json(method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) upload(filename, content string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(s.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func standardParams() map[string]interface{} {
	return map[string]interface{}{
		"layer_height":         0.2,
		"infill_density":       20,
		"print_speed":          50,
		"wall_thickness":       0.8,
		"top_bottom_thickness": 0.8,
		"nozzle_temperature":   200,
		"bed_temperature":      60,
		"support_enabled":      false,
		"retraction_enabled":   true,
		"retraction_distance":  5,
		"retraction_speed":     45,
	}
}

func TestSliceLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.upload("cube.stl", cubeSTL)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	model := decode[core.Model](t, env.Data)
	require.NotEmpty(t, model.ID)
	require.Equal(t, core.Range{Min: 0, Max: 2}, model.Bounds.Z)

	rec, env = s.json(http.MethodGet, "/api/v1/models/"+model.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, env = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   model.ID,
		"parameters": standardParams(),
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[core.Submission](t, env.Data)
	require.Equal(t, core.JobQueued, sub.Status)
	require.Greater(t, sub.EstimatedTime, 0)

	var job core.Job
	require.Eventually(t, func() bool {
		_, env := s.json(http.MethodGet, "/api/v1/slice/"+sub.JobID+"/status", nil)
		job = decode[core.Job](t, env.Data)
		return job.State == core.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 100.0, job.Progress)

	rec, _ = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/slice/"+sub.JobID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), `filename="cube_sliced.gcode"`)
	require.True(t, strings.HasPrefix(rec.Body.String(), "; Generated by"))

	rec, env = s.json(http.MethodPost, "/api/v1/slice/"+sub.JobID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INVALID_TRANSITION", env.ErrorCode)

	rec, env = s.json(http.MethodGet, "/api/v1/slice?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), sub.JobID)

	rec, env = s.json(http.MethodGet, "/api/v1/slice/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[core.JobStats](t, env.Data).Completed)

	rec, _ = s.json(http.MethodDelete, "/api/v1/models/"+model.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.json(http.MethodDelete, "/api/v1/slice/"+sub.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = s.json(http.MethodGet, "/api/v1/slice/"+sub.JobID+"/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "JOB_NOT_FOUND", env.ErrorCode)
}

func TestSubmitErrors(t *testing.T) {
	s := newTestServer(t)
	_, env := s.upload("cube.stl", cubeSTL)
	model := decode[core.Model](t, env.Data)

	params := standardParams()
	params["layer_height"] = 0.01
	rec, env := s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   model.ID,
		"parameters": params,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, "INVALID_PARAMETERS", env.ErrorCode)
	details := decode[core.ValidationError](t, env.Details)
	require.Equal(t, core.FieldLayerHeight, details.Field)

	rec, env = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   "missing",
		"parameters": standardParams(),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "MODEL_NOT_FOUND", env.ErrorCode)

	rec, env = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{"parameters": standardParams()})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", env.ErrorCode)

	// a profile fills in everything that is missing
	rec, _ = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   model.ID,
		"profile_id": "fast-draft",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec, env = s.json(http.MethodGet, "/api/v1/slice?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", env.ErrorCode)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.upload("part.step", "ISO-10303-21;")
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Equal(t, "UNSUPPORTED_FORMAT", env.ErrorCode)

	rec, env = s.upload("empty.obj", "# nothing\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", env.ErrorCode)

	rec, env = s.json(http.MethodPost, "/api/v1/models/upload", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", env.ErrorCode)

	rec, env = s.json(http.MethodGet, "/api/v1/models/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "MODEL_NOT_FOUND", env.ErrorCode)
}

func TestUploadLimits(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Storage.MaxUploadSize = 1024
		cfg.Jobs.MaxBuildVolume = core.BuildVolume{X: 5, Y: 50, Z: 50}
	})

	// rejected while the multipart body is still being read
	rec, env := s.upload("huge.stl", strings.Repeat("x", 2<<20))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "FILE_TOO_LARGE", env.ErrorCode)

	// within the body allowance but over the file limit
	rec, env = s.upload("big.stl", strings.Repeat("x", 2048))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "FILE_TOO_LARGE", env.ErrorCode)

	rec, env = s.upload("cube.stl", cubeSTL)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "MODEL_TOO_LARGE", env.ErrorCode)

	rec, env = s.json(http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0.0, decode[map[string]interface{}](t, env.Data)["count"])
}

func TestDeleteModel(t *testing.T) {
	s := newTestServer(t)

	_, env := s.upload("cube.stl", cubeSTL)
	model := decode[core.Model](t, env.Data)

	rec, _ := s.json(http.MethodDelete, "/api/v1/models/"+model.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.json(http.MethodDelete, "/api/v1/models/"+model.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "MODEL_NOT_FOUND", env.ErrorCode)

	rec, env = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   model.ID,
		"parameters": standardParams(),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "MODEL_NOT_FOUND", env.ErrorCode)
}

func TestProfilesAndEstimate(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.json(http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decode[[]core.Profile](t, env.Data)
	require.Len(t, profiles, 3)

	_, env = s.upload("cube.stl", cubeSTL)
	model := decode[core.Model](t, env.Data)

	rec, env = s.json(http.MethodPost, "/api/v1/estimate", map[string]interface{}{
		"model_id":   model.ID,
		"parameters": map[string]interface{}{"infill_density": 50},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	est := decode[map[string]float64](t, env.Data)
	require.Greater(t, est["estimated_time_minutes"], 0.0)
	require.Greater(t, est["estimated_filament_weight_g"], 0.0)
	require.Equal(t, 10.0, est["layers"])

	rec, env = s.json(http.MethodPost, "/api/v1/estimate", map[string]interface{}{
		"model_id":   model.ID,
		"profile_id": "nope",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.ErrorCode)
}

func TestEventStreamEndsAtTerminalState(t *testing.T) {
	s := newTestServer(t)
	_, env := s.upload("cube.stl", cubeSTL)
	model := decode[core.Model](t, env.Data)

	_, env = s.json(http.MethodPost, "/api/v1/slice", map[string]interface{}{
		"model_id":   model.ID,
		"parameters": standardParams(),
	})
	sub := decode[core.Submission](t, env.Data)

	rec, _ := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/slice/"+sub.JobID+"/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "event:status")
	require.Contains(t, body, `"status":"completed"`)

	rec, env = s.json(http.MethodGet, "/api/v1/slice/unknown/events", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "JOB_NOT_FOUND", env.ErrorCode)
}

func TestWebhookAdmin(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.json(http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"name":   "ci",
		"url":    "http://example.test/hook",
		"events": []string{"job_completed"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hook := decode[map[string]interface{}](t, env.Data)
	id := int(hook["id"].(float64))

	rec, env = s.json(http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"name":   "bad",
		"url":    "http://example.test/hook",
		"events": []string{"model_uploaded"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", env.ErrorCode)

	path := "/api/v1/webhooks/" + strconv.Itoa(id)
	rec, env = s.json(http.MethodPost, path+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), `"delivered":true`)

	rec, _ = s.json(http.MethodPut, path, map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.json(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.json(http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = s.json(http.MethodGet, "/api/v1/settings/server", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), `"worker_count":2`)
}
