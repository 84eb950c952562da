package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/internal/agent"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/internal/workspace"
	"github.com/feichai0017/mutulens/pkg/converters"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubExtractor) Name() string             { return "stub" }
func (s *stubExtractor) RequiresCredential() bool { return true }

func (s *stubExtractor) Extract(_ context.Context, asset models.Asset, _, instructions string) (agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return agent.Result{}, errors.New("provider unavailable")
	}
	return agent.Result{
		Kind:        agent.Structured,
		Text:        "hello from " + asset.MIMEType,
		Explanation: "instructions: " + instructions,
	}, nil
}

func testImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{shade, uint8(x * 4), uint8(y * 5), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	svc       *ExtractionService
	extractor *stubExtractor
	repo      *archive.SQLiteRepository
	handles   *media.ThumbnailHandles
	wsPath    string
	log       *logger.TestLogger
}

func newFixture(t *testing.T, credential string) *fixture {
	t.Helper()
	log := logger.NewTestLogger()

	repo, err := archive.NewSQLiteRepository(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	wsPath := filepath.Join(t.TempDir(), "workspace.json")
	handles := media.NewThumbnailHandles()
	ws := workspace.New(workspace.NewFileBackend(wsPath), handles, log)
	extractor := &stubExtractor{}
	creds := pipeline.NewCredentialStore(credential)

	ctrl := pipeline.NewController(extractor, repo, ws, handles, creds, pipeline.Options{}, log)
	svc := NewService(media.NewNormalizer(media.NormalizeOptions{}, log), ctrl, handles, creds, repo,
		ServiceConfig{Instructions: "default instructions", Retention: 24 * time.Hour}, log)
	t.Cleanup(func() { svc.Close() })

	return &fixture{svc: svc, extractor: extractor, repo: repo, handles: handles, wsPath: wsPath, log: log}
}

func TestSubmitAndDrain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	res, err := f.svc.Submit(ctx, [][]byte{testImage(t, 10), testImage(t, 200)})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	assert.Zero(t, res.Discarded)
	for _, v := range res.Accepted {
		assert.Equal(t, models.StatusPending, v.Status)
		assert.True(t, strings.HasPrefix(v.Preview, "data:image/jpeg;base64,"))
	}

	report, err := f.svc.Drain(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)

	batch := f.svc.Batch()
	assert.Equal(t, pipeline.MaxBatchSize, batch.Capacity)
	assert.Equal(t, 2, batch.Progress.Done())
	assert.False(t, batch.CredentialRequired)
	assert.Equal(t, "hello from image/jpeg", batch.Items[0].ExtractedText)
	assert.Equal(t, "instructions: default instructions", batch.Items[0].Explanation)

	records, err := f.svc.ListArchive(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.True(t, strings.HasPrefix(records[0].ImageData, "data:image/jpeg;base64,"))
}

func TestSubmitRejectsGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	_, err := f.svc.Submit(ctx, [][]byte{testImage(t, 10), []byte("not an image")})
	var groupErr *media.GroupError
	require.ErrorAs(t, err, &groupErr)
	assert.Equal(t, 1, groupErr.Failed)
	assert.ErrorIs(t, err, media.ErrNormalize)
	assert.Empty(t, f.svc.Batch().Items)

	_, err = f.svc.Submit(ctx, nil)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestSubmitOverCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	raws := make([][]byte, 0, 25)
	for i := 0; i < 25; i++ {
		raws = append(raws, testImage(t, uint8(i*9)))
	}
	res, err := f.svc.Submit(ctx, raws)
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 20)
	assert.Equal(t, 5, res.Discarded)
	assert.Equal(t, 20, f.handles.Live())
}

func TestStartDrainWithoutCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Submit(ctx, [][]byte{testImage(t, 10)})
	require.NoError(t, err)
	assert.True(t, f.svc.Batch().CredentialRequired)
	assert.False(t, f.svc.CredentialConfigured())

	err = f.svc.StartDrain("")
	assert.ErrorIs(t, err, pipeline.ErrMissingCredential)
	assert.Zero(t, f.extractor.calls)

	f.svc.SetCredential("  new-key ")
	assert.True(t, f.svc.CredentialConfigured())
	require.NoError(t, f.svc.StartDrain("custom"))

	require.Eventually(t, func() bool {
		return f.svc.Batch().Progress.Done() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "instructions: custom", f.svc.Batch().Items[0].Explanation)
}

type hangingExtractor struct {
	started chan struct{}
}

func (h *hangingExtractor) Name() string             { return "hanging" }
func (h *hangingExtractor) RequiresCredential() bool { return false }

func (h *hangingExtractor) Extract(ctx context.Context, _ models.Asset, _, _ string) (agent.Result, error) {
	h.started <- struct{}{}
	<-ctx.Done()
	return agent.Result{}, ctx.Err()
}

func TestCloseDuringDrain(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	repo, err := archive.NewSQLiteRepository(":memory:", log)
	require.NoError(t, err)
	defer repo.Close()

	wsPath := filepath.Join(t.TempDir(), "workspace.json")
	handles := media.NewThumbnailHandles()
	ws := workspace.New(workspace.NewFileBackend(wsPath), handles, log)
	extractor := &hangingExtractor{started: make(chan struct{}, 1)}
	creds := pipeline.NewCredentialStore("")

	ctrl := pipeline.NewController(extractor, repo, ws, handles, creds, pipeline.Options{}, log)
	svc := NewService(media.NewNormalizer(media.NormalizeOptions{}, log), ctrl, handles, creds, repo, ServiceConfig{}, log)

	_, err = svc.Submit(ctx, [][]byte{testImage(t, 10), testImage(t, 20)})
	require.NoError(t, err)
	require.NoError(t, svc.StartDrain(""))

	select {
	case <-extractor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("extraction never started")
	}
	require.NoError(t, svc.Close())

	assert.False(t, svc.Batch().Progress.Running)
	assert.ErrorIs(t, svc.StartDrain(""), pipeline.ErrClosed)

	restored, err := workspace.New(workspace.NewFileBackend(wsPath), media.NewThumbnailHandles(), log).Load(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	for _, it := range restored {
		assert.Equal(t, models.StatusPending, it.Status)
		assert.Empty(t, it.ErrorMessage)
	}

	records, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSetCredentialLogsTrimmedState(t *testing.T) {
	f := newFixture(t, "")

	f.svc.SetCredential("   ")
	assert.False(t, f.svc.CredentialConfigured())

	entries := f.log.GetEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "Extraction credential updated", last.Message)
	require.Len(t, last.Fields, 1)
	assert.Equal(t, "configured", last.Fields[0].Key)
	assert.Equal(t, int64(0), last.Fields[0].Integer)
}

func TestEditedAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	res, err := f.svc.Submit(ctx, [][]byte{testImage(t, 10)})
	require.NoError(t, err)
	id := res.Accepted[0].ID
	original := res.Accepted[0].Preview

	require.NoError(t, f.svc.SetEdited(ctx, id, testImage(t, 250)))
	view := f.svc.Batch().Items[0]
	assert.True(t, view.Edited)
	assert.NotEqual(t, original, view.Preview)

	assert.ErrorIs(t, f.svc.SetEdited(ctx, id, []byte("garbage")), media.ErrNormalize)
	assert.ErrorIs(t, f.svc.SetEdited(ctx, "missing", testImage(t, 1)), pipeline.ErrItemNotFound)

	require.NoError(t, f.svc.RevertEdited(ctx, id))
	view = f.svc.Batch().Items[0]
	assert.False(t, view.Edited)
	assert.Equal(t, original, view.Preview)
	assert.Equal(t, 1, f.handles.Live())
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	res, err := f.svc.Submit(ctx, [][]byte{testImage(t, 1), testImage(t, 2), testImage(t, 3)})
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(ctx, res.Accepted[1].ID))
	assert.Len(t, f.svc.Batch().Items, 2)
	assert.ErrorIs(t, f.svc.Remove(ctx, res.Accepted[1].ID), pipeline.ErrItemNotFound)

	f.svc.Clear(ctx)
	assert.Empty(t, f.svc.Batch().Items)
	assert.Zero(t, f.handles.Live())
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")

	_, err := f.svc.Export(converters.FormatText)
	assert.ErrorIs(t, err, ErrNothingToExport)

	res, err := f.svc.Submit(ctx, [][]byte{testImage(t, 1)})
	require.NoError(t, err)
	_, err = f.svc.Drain(ctx, "")
	require.NoError(t, err)

	exp, err := f.svc.Export(converters.FormatText)
	require.NoError(t, err)
	assert.Equal(t, "--- Image "+res.Accepted[0].ID[:6]+" ---\nhello from image/jpeg", string(exp.Data))
	assert.True(t, strings.HasPrefix(exp.Filename, "mutulens_bundle_"))
	assert.True(t, strings.HasSuffix(exp.Filename, ".txt"))

	exp, err = f.svc.Export(converters.FormatJSON)
	require.NoError(t, err)
	var items []converters.ExportedItem
	require.NoError(t, json.Unmarshal(exp.Data, &items))
	assert.Len(t, items, 1)

	_, err = f.svc.Export("docx")
	assert.Error(t, err)
}

func TestArchiveOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "key")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	require.NoError(t, f.svc.CreateArchive(ctx, models.ArchiveRecord{ID: "old", ImageData: "data:,", ExtractedText: "x", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, f.svc.CreateArchive(ctx, models.ArchiveRecord{ID: "new", ImageData: "data:,", ExtractedText: "y"}))

	records, err := f.svc.ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, now, records[0].CreatedAt)

	n, err := f.svc.PruneArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.svc.DeleteArchive(ctx, "new"))
	assert.ErrorIs(t, f.svc.DeleteArchive(ctx, "new"), archive.ErrNotFound)
}

func TestGetServiceRestoresWorkspace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	app := cfg.Defaults()
	app.Workspace.Path = filepath.Join(dir, "workspace.json")
	app.Archive.SQLPath = filepath.Join(dir, "archive.db")
	app.Extraction.APIKey = ""

	svc, err := GetService(ctx, app, logger.NewTestLogger())
	require.NoError(t, err)
	res, err := svc.Submit(ctx, [][]byte{testImage(t, 5), testImage(t, 6)})
	require.NoError(t, err)
	assert.True(t, svc.Batch().CredentialRequired)
	require.NoError(t, svc.Close())

	restored, err := GetService(ctx, app, logger.NewTestLogger())
	require.NoError(t, err)
	defer restored.Close()

	batch := restored.Batch()
	require.Len(t, batch.Items, 2)
	assert.Equal(t, res.Accepted[0].ID, batch.Items[0].ID)
	assert.Equal(t, models.StatusPending, batch.Items[0].Status)
	assert.NotEmpty(t, batch.Items[0].Preview)
}

func TestGetServiceRejectsUnknownBackend(t *testing.T) {
	app := cfg.Defaults()
	app.Archive.SQLPath = filepath.Join(t.TempDir(), "archive.db")
	app.Workspace.Backend = "floppy"

	_, err := GetService(context.Background(), app, logger.NewTestLogger())
	assert.Error(t, err)
}
