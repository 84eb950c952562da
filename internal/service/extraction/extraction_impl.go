package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/internal/agent"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/internal/workspace"
	"github.com/feichai0017/mutulens/pkg/converters"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/queue"
)

var (
	ErrNoImages         = errors.New("no images submitted")
	ErrNothingToExport  = errors.New("no completed items to export")
	ErrPruneUnsupported = errors.New("archive backend does not support pruning")
)

// Previewer is a HandleFactory whose handles can be rendered for clients.
type Previewer interface {
	media.HandleFactory
	Resolve(h models.Handle) (string, bool)
}

type ServiceConfig struct {
	// Instructions are used when a drain is started without its own.
	Instructions string
	Retention    time.Duration
}

type ExtractionService struct {
	normalizer *media.Normalizer
	controller *pipeline.Controller
	handles    Previewer
	creds      *pipeline.CredentialStore
	store      archive.Client
	config     ServiceConfig

	root    context.Context
	cancel  context.CancelFunc
	closers []io.Closer
	now     func() time.Time
	logger  logger.Logger
}

func NewService(
	normalizer *media.Normalizer,
	controller *pipeline.Controller,
	handles Previewer,
	creds *pipeline.CredentialStore,
	store archive.Client,
	config ServiceConfig,
	log logger.Logger,
) *ExtractionService {
	root, cancel := context.WithCancel(context.Background())
	return &ExtractionService{
		normalizer: normalizer,
		controller: controller,
		handles:    handles,
		creds:      creds,
		store:      store,
		config:     config,
		root:       root,
		cancel:     cancel,
		now:        time.Now,
		logger:     log,
	}
}

// GetService builds the full stack from configuration and restores the stored workspace.
func GetService(ctx context.Context, app *cfg.AppConfig, log logger.Logger) (*ExtractionService, error) {
	var closers []io.Closer
	fail := func(err error) (*ExtractionService, error) {
		closeAll(closers, log)
		return nil, err
	}

	handles := media.NewThumbnailHandles()
	normalizer := media.NewNormalizer(media.NormalizeOptions{
		MaxBytes:     app.Normalizer.MaxBytes,
		MaxDimension: app.Normalizer.MaxDimension,
		Quality:      app.Normalizer.Quality,
	}, log)

	// 初始化提取器
	extractor, err := agent.NewExtractor(ctx, app.Extraction, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize extractor: %w", err))
	}
	if c, ok := extractor.(io.Closer); ok {
		closers = append(closers, c)
	}

	// 初始化归档存储
	store, err := archive.NewStore(ctx, app.Archive, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize archive: %w", err))
	}
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c)
	}

	var writer archive.Client = store
	if app.Archive.Queued {
		q := queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:  app.Queue.RedisAddr,
			RedisDB:    app.Queue.RedisDB,
			MaxRetries: app.Queue.MaxRetry,
		})
		closers = append(closers, q)
		writer = archive.NewQueuedClient(store, q, log)
	}

	backend, closer, err := newWorkspaceBackend(app)
	if err != nil {
		return fail(err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	ws := workspace.New(backend, handles, log)

	creds := pipeline.NewCredentialStore(app.Extraction.APIKey)
	controller := pipeline.NewController(extractor, writer, ws, handles, creds,
		pipeline.Options{ExtractTimeout: app.Extraction.Timeout}, log)

	svc := NewService(normalizer, controller, handles, creds, store, ServiceConfig{
		Instructions: app.Extraction.Instructions,
		Retention:    app.Archive.Retention,
	}, log)
	svc.closers = closers

	svc.Restore(ctx, ws)
	return svc, nil
}

func newWorkspaceBackend(app *cfg.AppConfig) (workspace.Backend, io.Closer, error) {
	switch app.Workspace.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: app.Queue.RedisAddr,
			DB:   app.Queue.RedisDB,
		})
		return workspace.NewRedisBackend(rdb, app.Workspace.RedisKey), rdb, nil
	case "file":
		return workspace.NewFileBackend(app.Workspace.Path), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported workspace backend: %s", app.Workspace.Backend)
	}
}

// Restore loads the stored batch into the controller. A store that cannot be read
// leaves the batch empty.
func (s *ExtractionService) Restore(ctx context.Context, ws *workspace.Workspace) {
	items, err := ws.Load(ctx)
	if err != nil {
		s.logger.Warn("Failed to load workspace, starting empty", logger.Error(err))
		return
	}
	if items == nil {
		return
	}
	s.controller.Restore(ctx, items)
}

// Submit normalizes one submission group and enqueues it. A single undecodable image
// rejects the whole group.
func (s *ExtractionService) Submit(ctx context.Context, raws [][]byte) (*SubmitResult, error) {
	if len(raws) == 0 {
		return nil, ErrNoImages
	}

	assets, err := s.normalizer.NormalizeGroup(ctx, raws)
	if err != nil {
		return nil, err
	}

	accepted, discarded := s.controller.Enqueue(ctx, assets)
	s.logger.Info("Images submitted",
		logger.Int("submitted", len(raws)),
		logger.Int("accepted", len(accepted)),
		logger.Int("discarded", discarded),
	)

	views := make([]ItemView, len(accepted))
	for i, it := range accepted {
		views[i] = s.view(it)
	}
	return &SubmitResult{Accepted: views, Discarded: discarded}, nil
}

// SetEdited normalizes raw (a crop of the item) and makes it the item's input.
func (s *ExtractionService) SetEdited(ctx context.Context, id string, raw []byte) error {
	asset, err := s.normalizer.Normalize(raw)
	if err != nil {
		return err
	}
	return s.controller.SetEdited(ctx, id, &asset)
}

func (s *ExtractionService) RevertEdited(ctx context.Context, id string) error {
	return s.controller.SetEdited(ctx, id, nil)
}

func (s *ExtractionService) Remove(ctx context.Context, id string) error {
	return s.controller.Remove(ctx, id)
}

func (s *ExtractionService) Clear(ctx context.Context) {
	s.controller.Clear(ctx)
}

// StartDrain starts a drain that outlives the calling request. Refusals are returned
// synchronously.
func (s *ExtractionService) StartDrain(instructions string) error {
	_, err := s.controller.DrainAsync(s.root, s.instructions(instructions))
	return err
}

// Drain runs a drain to completion and waits for its archive writes.
func (s *ExtractionService) Drain(ctx context.Context, instructions string) (pipeline.DrainReport, error) {
	report, err := s.controller.Drain(ctx, s.instructions(instructions))
	if err != nil {
		return report, err
	}
	s.controller.Wait()
	return report, nil
}

func (s *ExtractionService) instructions(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return s.config.Instructions
}

func (s *ExtractionService) Batch() *BatchView {
	items := s.controller.Snapshot()
	views := make([]ItemView, len(items))
	for i, it := range items {
		views[i] = s.view(it)
	}
	return &BatchView{
		Items:              views,
		Progress:           s.controller.Progress(),
		Capacity:           pipeline.MaxBatchSize,
		CredentialRequired: s.controller.RequiresCredential(),
	}
}

// Items returns copies of the batch in order.
func (s *ExtractionService) Items() []*models.WorkItem {
	return s.controller.Snapshot()
}

func (s *ExtractionService) Item(id string) (*models.WorkItem, error) {
	return s.controller.Get(id)
}

func (s *ExtractionService) Export(format converters.Format) (*Export, error) {
	converter, err := converters.NewConverter(format)
	if err != nil {
		return nil, err
	}

	items := s.controller.Snapshot()
	if converters.TextBundle(items) == "" {
		return nil, ErrNothingToExport
	}
	data, err := converter.Convert(items)
	if err != nil {
		return nil, fmt.Errorf("failed to convert batch: %w", err)
	}
	return &Export{
		Filename:    converters.BundleFilename(converter.Format(), s.now()),
		ContentType: converter.ContentType(),
		Data:        data,
	}, nil
}

func (s *ExtractionService) Subscribe(fn pipeline.Observer) func() {
	return s.controller.Subscribe(fn)
}

func (s *ExtractionService) SetCredential(value string) {
	s.creds.Set(strings.TrimSpace(value))
	s.logger.Info("Extraction credential updated", logger.Bool("configured", s.CredentialConfigured()))
}

func (s *ExtractionService) CredentialConfigured() bool {
	return s.creds.Credential() != ""
}

func (s *ExtractionService) ListArchive(ctx context.Context) ([]models.ArchiveRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	return records, nil
}

func (s *ExtractionService) CreateArchive(ctx context.Context, rec models.ArchiveRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	return s.store.Create(ctx, rec)
}

func (s *ExtractionService) DeleteArchive(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// PruneArchive removes records older than the retention period. Zero retention keeps everything.
func (s *ExtractionService) PruneArchive(ctx context.Context) (int, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	pruner, ok := s.store.(archive.Pruner)
	if !ok {
		return 0, ErrPruneUnsupported
	}

	threshold := s.now().Add(-s.config.Retention)
	n, err := pruner.Prune(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	s.logger.Info("Archive pruned",
		logger.Int("removed", n),
		logger.Time("threshold", threshold),
	)
	return n, nil
}

// Close interrupts a running drain, waits for it and its archive writes, then releases
// resources. The interrupted item is stored as pending.
func (s *ExtractionService) Close() error {
	s.cancel()
	s.controller.Close()
	return closeAll(s.closers, s.logger)
}

func (s *ExtractionService) view(it *models.WorkItem) ItemView {
	v := ItemView{
		ID:            it.ID,
		Status:        it.Status,
		ExtractedText: it.ExtractedText,
		Explanation:   it.Explanation,
		LatencyMs:     it.LatencyMs,
		Error:         it.ErrorMessage,
		Edited:        it.Edited != nil,
	}
	if uri, ok := s.handles.Resolve(it.DisplayHandle()); ok {
		v.Preview = uri
	}
	return v
}

func closeAll(closers []io.Closer, log logger.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Error("Failed to close resource", logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Service = (*ExtractionService)(nil)
