package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixgrid/internal/config"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
)

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	objects *objectstore.Store
	jobs    chan pipeline.Job
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	objects, err := objectstore.New(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	jobs := make(chan pipeline.Job, 4)
	proc := processorFunc(func(ctx context.Context, job pipeline.Job) pipeline.Result {
		jobs <- job
		return pipeline.Result{Job: job, Meta: map[string]any{"ok": true}}
	})
	pipe := pipeline.NewWithProcessor(context.Background(), 1, slog.Default(), store, proc)
	t.Cleanup(pipe.Stop)

	cfg := config.Default()
	s := NewServer(cfg, store, pipe, objects, slog.Default())
	return &testEnv{handler: s.Handler(), store: store, objects: objects, jobs: jobs}
}

type processorFunc func(ctx context.Context, job pipeline.Job) pipeline.Result

func (f processorFunc) Process(ctx context.Context, job pipeline.Job) pipeline.Result {
	return f(ctx, job)
}

func halvesPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if x < w/2 {
				v = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("X-Preview-Clients"))
}

func TestPatternEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := multipartRequest(t, "/api/pattern", "halves.png", halvesPNG(t, 100, 100), map[string]string{
		"cols": "2", "rows": "2", "threshold": "128", "mode": "label",
	})
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("X-Pattern-Black-Cells"))

	var body struct {
		Grid [][]string `json:"grid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, [][]string{{"black", "white"}, {"black", "white"}}, body.Grid)

	key := rec.Header().Get("X-Object-Key")
	require.NotEmpty(t, key)
	stored, err := env.objects.Get(key)
	require.NoError(t, err)
	assert.Equal(t, rec.Body.Bytes(), stored)

	obj := env.do(httptest.NewRequest(http.MethodGet, "/api/objects/"+key, nil))
	assert.Equal(t, http.StatusOK, obj.Code)
	assert.Equal(t, stored, obj.Body.Bytes())

	del := env.do(httptest.NewRequest(http.MethodDelete, "/api/objects/"+key, nil))
	assert.Equal(t, http.StatusNoContent, del.Code)
	_, err = env.objects.Get(key)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestPatternEndpointErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(multipartRequest(t, "/api/pattern", "x.png", []byte("not an image"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(multipartRequest(t, "/api/pattern", "x.png", halvesPNG(t, 10, 10), map[string]string{"cols": "500", "rows": "1"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "degenerate")

	rec = env.do(multipartRequest(t, "/api/pattern", "x.png", halvesPNG(t, 10, 10), map[string]string{"cols": "501"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(multipartRequest(t, "/api/pattern", "x.png", halvesPNG(t, 10, 10), map[string]string{"cols": "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(multipartRequest(t, "/api/pattern", "", nil, map[string]string{"cols": "2"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	errs, err := env.store.RecentErrors(10)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, "api.pattern", errs[0].Context)
}

func TestTilesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(multipartRequest(t, "/api/tiles", "My Photo.png", halvesPNG(t, 40, 20), map[string]string{"cols": "2", "rows": "2"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "My Photo-split-images.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"My Photo_00_00.png", "My Photo_00_01.png", "My Photo_01_00.png", "My Photo_01_01.png", "manifest.json"}, names)

	rec = env.do(multipartRequest(t, "/api/tiles", "a.png", halvesPNG(t, 40, 20), map[string]string{"cols": "11"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWalkEndpoint(t *testing.T) {
	env := newTestEnv(t)
	body := `{"grid": {"grid": [[1,1,1],[1,0,0],[1,1,1]]}, "move": "d"}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/walk", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp walkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Moved)
	assert.Equal(t, 2, resp.Position.X)

	body = `{"grid": {"grid": [[1,1,1],[1,0,0],[1,1,1]]}, "from": {"x": 1, "y": 1}, "move": "w"}`
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/walk", strings.NewReader(body)))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Moved)
	assert.Equal(t, 1, resp.Position.Y)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/walk", strings.NewReader(`{"grid": {"grid": [[0]]}, "move": "x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLibraryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/library/media", strings.NewReader(`{"type":"image","src":"objects/a.png","prompt":"a cat"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/library/media", nil))
	var items []storage.MediaItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "a cat", items[0].Prompt)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/library/prompts", strings.NewReader(`{"text":"a cat"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/library/prompts", strings.NewReader(`{"text":"a cat"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/library/media", strings.NewReader(`{"type":"gif","src":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAndFetchJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"pattern","input":"in.png","options":{"cols":20}}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	job := <-env.jobs
	assert.Equal(t, resp["id"], job.ID)
	assert.Equal(t, float64(20), job.Options["cols"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+resp["id"], nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"stack","input":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestObjectNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/objects/nope.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
