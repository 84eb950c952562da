package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/mutulens/api/ws"
	"github.com/feichai0017/mutulens/internal/agent"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/internal/utils/validator"
	"github.com/feichai0017/mutulens/internal/workspace"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type gatedExtractor struct {
	mu   sync.Mutex
	gate chan struct{}
}

func (g *gatedExtractor) Name() string             { return "gated" }
func (g *gatedExtractor) RequiresCredential() bool { return true }

func (g *gatedExtractor) Extract(ctx context.Context, _ models.Asset, _, _ string) (agent.Result, error) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		}
	}
	return agent.Result{Kind: agent.Structured, Text: "Invoice 42", Explanation: "printed text"}, nil
}

type testServer struct {
	router    *gin.Engine
	extractor *gatedExtractor
	svc       *extraction.ExtractionService
}

func newTestServer(t *testing.T, credential string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()

	repo, err := archive.NewSQLiteRepository(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	handles := media.NewThumbnailHandles()
	store := workspace.New(workspace.NewFileBackend(filepath.Join(t.TempDir(), "ws.json")), handles, log)
	creds := pipeline.NewCredentialStore(credential)
	extractor := &gatedExtractor{}
	ctrl := pipeline.NewController(extractor, repo, store, handles, creds, pipeline.Options{}, log)
	svc := extraction.NewService(media.NewNormalizer(media.NormalizeOptions{}, log), ctrl, handles, creds, repo,
		extraction.ServiceConfig{}, log)
	t.Cleanup(func() { svc.Close() })

	hub := newHub(t, log)
	h := NewHandlers(svc, validator.NewImageValidator(log, nil), hub, log)
	t.Cleanup(h.Events.Close)

	r := gin.New()
	setupTestRoutes(r, h)
	return &testServer{router: r, extractor: extractor, svc: svc}
}

func newHub(t *testing.T, log logger.Logger) *ws.Hub {
	hub := ws.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// setupTestRoutes mirrors routes.SetupRoutes without importing it (routes imports handlers).
func setupTestRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	api.GET("/health", Health)
	api.GET("/extractions", h.Archive.List)
	api.POST("/extractions", h.Archive.Create)
	api.DELETE("/extractions/:id", h.Archive.Delete)
	api.GET("/workspace", h.Workspace.GetBatch)
	api.DELETE("/workspace", h.Workspace.Clear)
	api.POST("/workspace/images", h.Workspace.UploadImages)
	api.PUT("/workspace/items/:id/edited", h.Workspace.SetEdited)
	api.DELETE("/workspace/items/:id/edited", h.Workspace.RevertEdited)
	api.DELETE("/workspace/items/:id", h.Workspace.RemoveItem)
	api.GET("/workspace/items/:id/download", h.Workspace.DownloadItem)
	api.POST("/workspace/drain", h.Workspace.StartDrain)
	api.GET("/workspace/export", h.Workspace.Export)
	api.GET("/settings", h.Settings.Get)
	api.PUT("/settings/credential", h.Settings.SetCredential)
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func pngImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{shade, uint8(x * 8), uint8(y * 8), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, files map[string][]byte) ([]byte, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body.Bytes(), w.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) upload(t *testing.T, n int) extraction.SubmitResult {
	t.Helper()
	files := map[string][]byte{}
	for i := 0; i < n; i++ {
		files[string(rune('a'+i))+".png"] = pngImage(t, uint8(i*20))
	}
	body, ct := multipartBody(t, "files", files)
	rec := s.do(t, http.MethodPost, "/api/workspace/images", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[extraction.SubmitResult](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "key")
	rec := s.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadImages(t *testing.T) {
	s := newTestServer(t, "key")

	res := s.upload(t, 2)
	assert.Len(t, res.Accepted, 2)

	batch := decode[extraction.BatchView](t, s.do(t, http.MethodGet, "/api/workspace", nil, ""))
	assert.Len(t, batch.Items, 2)
	assert.Equal(t, 20, batch.Capacity)
	assert.Equal(t, 2, batch.Progress.Pending)

	body, ct := multipartBody(t, "files", map[string][]byte{"notes.png": []byte("plain text, not an image")})
	rec := s.do(t, http.MethodPost, "/api/workspace/images", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_image", decode[ErrorResponse](t, rec).Error)

	body, ct = multipartBody(t, "other", map[string][]byte{"a.png": pngImage(t, 1)})
	rec = s.do(t, http.MethodPost, "/api/workspace/images", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDrainFlow(t *testing.T) {
	s := newTestServer(t, "")
	res := s.upload(t, 1)
	id := res.Accepted[0].ID

	rec := s.do(t, http.MethodPost, "/api/workspace/drain", nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "credential_required", decode[ErrorResponse](t, rec).Error)

	settings := decode[map[string]bool](t, s.do(t, http.MethodGet, "/api/settings", nil, ""))
	assert.False(t, settings["credentialConfigured"])
	assert.True(t, settings["credentialRequired"])

	rec = s.do(t, http.MethodPut, "/api/settings/credential", []byte(`{"credential":"abc"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"credentialConfigured":true}`, rec.Body.String())

	gate := make(chan struct{})
	s.extractor.mu.Lock()
	s.extractor.gate = gate
	s.extractor.mu.Unlock()

	rec = s.do(t, http.MethodPost, "/api/workspace/drain", []byte(`{"instructions":"focus on totals"}`), "application/json")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/workspace/drain", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "drain_in_progress", decode[ErrorResponse](t, rec).Error)

	require.Eventually(t, func() bool {
		item, err := s.svc.Item(id)
		return err == nil && item.Status == models.StatusProcessing
	}, 2*time.Second, 10*time.Millisecond)
	rec = s.do(t, http.MethodPut, "/api/workspace/items/"+id+"/edited", pngImage(t, 99), "image/png")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(gate)
	require.Eventually(t, func() bool {
		return s.svc.Batch().Progress.Done() == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/workspace/export?format=txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "--- Image "+id[:6]+" ---\nInvoice 42", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "mutulens_bundle_")

	rec = s.do(t, http.MethodGet, "/api/workspace/items/"+id+"/download?format=md", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invoice 42", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "extraction_"+id[:6]+".md")

	require.Eventually(t, func() bool {
		records := decode[[]models.ArchiveRecord](t, s.do(t, http.MethodGet, "/api/extractions", nil, ""))
		return len(records) == 1 && records[0].ID == id
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExportErrors(t *testing.T) {
	s := newTestServer(t, "key")

	rec := s.do(t, http.MethodGet, "/api/workspace/export", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nothing_to_export", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/workspace/export?format=pdf", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res := s.upload(t, 1)
	rec = s.do(t, http.MethodGet, "/api/workspace/items/"+res.Accepted[0].ID+"/download", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItemEditing(t *testing.T) {
	s := newTestServer(t, "key")
	res := s.upload(t, 2)
	id := res.Accepted[0].ID

	rec := s.do(t, http.MethodPut, "/api/workspace/items/"+id+"/edited", pngImage(t, 200), "image/png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["edited"])

	body, ct := multipartBody(t, "file", map[string][]byte{"crop.png": pngImage(t, 150)})
	rec = s.do(t, http.MethodPut, "/api/workspace/items/"+id+"/edited", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/workspace/items/"+id+"/edited", []byte("nope"), "image/png")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/workspace/items/missing/edited", pngImage(t, 1), "image/png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/workspace/items/"+id+"/edited", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/workspace/items/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/workspace/items/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodDelete, "/api/workspace", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.svc.Batch().Items)
}

func TestArchiveEndpoints(t *testing.T) {
	s := newTestServer(t, "key")

	rec := s.do(t, http.MethodPost, "/api/extractions",
		[]byte(`{"id":"rec-1","image_data":"data:image/jpeg;base64,AAAA","extracted_text":"hello","latency":812}`),
		"application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/extractions", []byte(`{"extracted_text":"no id"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	records := decode[[]models.ArchiveRecord](t, s.do(t, http.MethodGet, "/api/extractions", nil, ""))
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].ExtractedText)
	assert.EqualValues(t, 812, records[0].Latency)
	assert.False(t, records[0].CreatedAt.IsZero())

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(s.do(t, http.MethodGet, "/api/extractions", nil, "").Body.Bytes(), &raw))
	for _, key := range []string{"id", "image_data", "extracted_text", "latency", "created_at"} {
		assert.Contains(t, raw[0], key)
	}

	rec = s.do(t, http.MethodDelete, "/api/extractions/rec-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/extractions/rec-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	records = decode[[]models.ArchiveRecord](t, s.do(t, http.MethodGet, "/api/extractions", nil, ""))
	assert.Empty(t, records)
	assert.True(t, strings.HasPrefix(s.do(t, http.MethodGet, "/api/extractions", nil, "").Body.String(), "["))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{pipeline.ErrMissingCredential, http.StatusPreconditionFailed, "credential_required"},
		{pipeline.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},
		{pipeline.ErrDrainInProgress, http.StatusConflict, "drain_in_progress"},
		{archive.ErrNotFound, http.StatusNotFound, "not_found"},
		{media.ErrNormalize, http.StatusUnprocessableEntity, "invalid_image"},
		{context.Canceled, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
