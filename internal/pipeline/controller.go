package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/mutulens/internal/agent"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// MaxBatchSize is the hard cap on items held at once.
const MaxBatchSize = 20

const (
	defaultFailureMessage = "Extraction failed"
	archiveTimeout        = 30 * time.Second
)

var (
	ErrMissingCredential = errors.New("extraction credential is not configured")
	ErrDrainInProgress   = errors.New("a drain is already in progress")
	ErrClosed            = errors.New("controller is closed")
	ErrItemNotFound      = errors.New("work item not found")
	ErrItemProcessing    = errors.New("work item is being processed")
)

// Store persists batch snapshots.
type Store interface {
	Save(ctx context.Context, items []*models.WorkItem) error
}

type Options struct {
	// ExtractTimeout bounds each extraction call. Zero means no bound.
	ExtractTimeout time.Duration
	Now            func() time.Time
}

// DrainReport summarizes a finished drain.
type DrainReport struct {
	DrainID   string
	Attempted int
	Completed int
	Failed    int
	Cancelled bool
}

// Controller owns the batch. All mutation goes through it; the store and archive
// only ever see snapshots.
type Controller struct {
	mu         sync.Mutex
	items      []*models.WorkItem
	generation uint64
	draining   bool
	closed     bool

	saveMu sync.Mutex

	extractor agent.Extractor
	archive   archive.Client
	store     Store
	handles   media.HandleFactory
	creds     CredentialSource
	observers observers
	drains    sync.WaitGroup
	archiving sync.WaitGroup

	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

func NewController(
	extractor agent.Extractor,
	archiveClient archive.Client,
	store Store,
	handles media.HandleFactory,
	creds CredentialSource,
	opts Options,
	log logger.Logger,
) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		items:     []*models.WorkItem{},
		extractor: extractor,
		archive:   archiveClient,
		store:     store,
		handles:   handles,
		creds:     creds,
		timeout:   opts.ExtractTimeout,
		now:       opts.Now,
		logger:    log,
	}
}

// Subscribe registers fn for batch events and returns a function that removes it.
func (c *Controller) Subscribe(fn Observer) func() {
	return c.observers.add(fn)
}

// Enqueue adds assets as pending items in order, then truncates the batch to the
// first MaxBatchSize entries. It returns the accepted items and how many were discarded.
func (c *Controller) Enqueue(ctx context.Context, assets []models.Asset) ([]*models.WorkItem, int) {
	incoming := make([]*models.WorkItem, 0, len(assets))
	for _, a := range assets {
		item := &models.WorkItem{
			ID:     uuid.NewString(),
			Source: a,
			Status: models.StatusPending,
		}
		item.SourceHandle = c.createHandle(item.ID, a)
		incoming = append(incoming, item)
	}

	c.mu.Lock()
	combined := append(c.items, incoming...)
	var overflow []*models.WorkItem
	if len(combined) > MaxBatchSize {
		overflow = combined[MaxBatchSize:]
		combined = combined[:MaxBatchSize:MaxBatchSize]
	}
	c.items = combined

	dropped := make(map[string]bool, len(overflow))
	for _, it := range overflow {
		c.releaseHandles(it)
		dropped[it.ID] = true
	}
	accepted := make([]*models.WorkItem, 0, len(incoming))
	for _, it := range incoming {
		if !dropped[it.ID] {
			accepted = append(accepted, it.Clone())
		}
	}
	progress := c.progressLocked()
	c.mu.Unlock()

	if len(overflow) > 0 {
		c.logger.Warn("Batch capacity reached, discarded items",
			logger.Int("discarded", len(overflow)),
			logger.Int("capacity", MaxBatchSize),
		)
	}

	c.persist(ctx)
	for _, it := range accepted {
		c.observers.emit(Event{Type: EventEnqueued, ItemID: it.ID, Status: it.Status, Progress: progress})
	}
	return accepted, len(overflow)
}

// Restore replaces the batch with items loaded from the workspace store. Handles on the
// given items become owned by the controller.
func (c *Controller) Restore(ctx context.Context, items []*models.WorkItem) {
	seen := make(map[string]bool, len(items))
	kept := make([]*models.WorkItem, 0, len(items))
	var dropped []*models.WorkItem
	for _, it := range items {
		if it == nil {
			continue
		}
		if seen[it.ID] || len(kept) >= MaxBatchSize {
			dropped = append(dropped, it)
			continue
		}
		seen[it.ID] = true
		kept = append(kept, it)
	}

	c.mu.Lock()
	for _, it := range c.items {
		c.releaseHandles(it)
	}
	for _, it := range dropped {
		c.releaseHandles(it)
	}
	c.items = kept
	c.generation++
	progress := c.progressLocked()
	c.mu.Unlock()

	c.logger.Info("Batch restored",
		logger.Int("items", len(kept)),
		logger.Int("dropped", len(dropped)),
	)
	c.persist(ctx)
	c.observers.emit(Event{Type: EventRestored, Progress: progress})
}

// Remove releases the item's handles and excises it, preserving the order of the rest.
func (c *Controller) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	c.releaseHandles(c.items[idx])
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	progress := c.progressLocked()
	c.mu.Unlock()

	c.persist(ctx)
	c.observers.emit(Event{Type: EventRemoved, ItemID: id, Progress: progress})
	return nil
}

// Clear releases every handle and empties the batch. A running drain stops dispatching;
// a result arriving for a cleared item is discarded.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	for _, it := range c.items {
		c.releaseHandles(it)
	}
	c.items = []*models.WorkItem{}
	c.generation++
	progress := c.progressLocked()
	c.mu.Unlock()

	c.logger.Info("Batch cleared")
	c.persist(ctx)
	c.observers.emit(Event{Type: EventCleared, Progress: progress})
}

// SetEdited attaches an edited asset (e.g. a crop) that supersedes the source for display
// and extraction. A nil asset reverts to the source.
func (c *Controller) SetEdited(ctx context.Context, id string, edited *models.Asset) error {
	var handle models.Handle
	if edited != nil && !edited.Empty() {
		handle = c.createHandle(id, *edited)
	}

	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		c.releaseHandle(handle)
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item := c.items[idx]
	if item.Status == models.StatusProcessing {
		c.mu.Unlock()
		c.releaseHandle(handle)
		return fmt.Errorf("%w: %s", ErrItemProcessing, id)
	}

	c.releaseHandle(item.EditedHandle)
	if edited != nil && !edited.Empty() {
		e := *edited
		item.Edited = &e
		item.EditedHandle = handle
	} else {
		item.Edited = nil
		item.EditedHandle = ""
	}
	status := item.Status
	progress := c.progressLocked()
	c.mu.Unlock()

	c.persist(ctx)
	c.observers.emit(Event{Type: EventEdited, ItemID: id, Status: status, Progress: progress})
	return nil
}

// Snapshot returns copies of the batch in order.
func (c *Controller) Snapshot() []*models.WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Get returns a copy of one item.
func (c *Controller) Get(id string) (*models.WorkItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return c.items[idx].Clone(), nil
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

// RequiresCredential reports whether a drain would be refused right now for lack of one.
func (c *Controller) RequiresCredential() bool {
	return c.extractor.RequiresCredential() && c.creds.Credential() == ""
}

// Drain processes every item that is pending now, one at a time in batch order, and
// blocks until it finishes.
func (c *Controller) Drain(ctx context.Context, instructions string) (DrainReport, error) {
	run, err := c.beginDrain(ctx)
	if err != nil {
		return DrainReport{}, err
	}
	return run(instructions), nil
}

// DrainAsync performs the same checks as Drain synchronously, then runs the drain in
// the background. The channel receives the report and is closed.
func (c *Controller) DrainAsync(ctx context.Context, instructions string) (<-chan DrainReport, error) {
	run, err := c.beginDrain(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan DrainReport, 1)
	go func() {
		defer close(done)
		done <- run(instructions)
	}()
	return done, nil
}

// Wait blocks until background archive writes have finished.
func (c *Controller) Wait() {
	c.archiving.Wait()
}

// Close refuses further drains, then waits for the running drain and its archive
// writes. Cancel the drain's context first or Close blocks until the drain ends.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.drains.Wait()
	c.archiving.Wait()
}

type drainRun func(instructions string) DrainReport

func (c *Controller) beginDrain(ctx context.Context) (drainRun, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.draining {
		c.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	credential := c.creds.Credential()
	if c.extractor.RequiresCredential() && credential == "" {
		c.mu.Unlock()
		return nil, ErrMissingCredential
	}

	ids := make([]string, 0, len(c.items))
	for _, it := range c.items {
		if it.Status == models.StatusPending {
			ids = append(ids, it.ID)
		}
	}
	generation := c.generation
	c.draining = true
	// Add under mu so it is ordered before Close's Wait.
	c.drains.Add(1)
	progress := c.progressLocked()
	c.mu.Unlock()

	drainID := uuid.NewString()
	ctx = logger.WithDrainID(ctx, drainID)

	return func(instructions string) DrainReport {
		defer c.drains.Done()
		log := logger.FromContext(ctx, c.logger)
		log.Info("Drain started",
			logger.Int("pending", len(ids)),
			logger.String("provider", c.extractor.Name()),
		)
		c.observers.emit(Event{Type: EventDrainStarted, Progress: progress})

		report := c.runDrain(ctx, log, ids, generation, credential, instructions)
		report.DrainID = drainID

		c.mu.Lock()
		c.draining = false
		final := c.progressLocked()
		c.mu.Unlock()

		log.Info("Drain finished",
			logger.Int("attempted", report.Attempted),
			logger.Int("completed", report.Completed),
			logger.Int("failed", report.Failed),
			logger.Bool("cancelled", report.Cancelled),
		)
		c.observers.emit(Event{Type: EventDrainFinished, Progress: final})
		return report
	}, nil
}

func (c *Controller) runDrain(ctx context.Context, log logger.Logger, ids []string, generation uint64, credential, instructions string) DrainReport {
	var report DrainReport

	for _, id := range ids {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		c.mu.Lock()
		if c.generation != generation {
			c.mu.Unlock()
			report.Cancelled = true
			break
		}
		idx := c.indexLocked(id)
		if idx < 0 || c.items[idx].Status != models.StatusPending {
			c.mu.Unlock()
			continue
		}
		item := c.items[idx]
		item.Status = models.StatusProcessing
		input := item.Input()
		progress := c.progressLocked()
		c.mu.Unlock()

		report.Attempted++
		c.persist(ctx)
		c.observers.emit(Event{Type: EventStatusChanged, ItemID: id, Status: models.StatusProcessing, Progress: progress})

		result, latency, err := c.extract(ctx, input, credential, instructions)

		c.mu.Lock()
		idx = c.indexLocked(id)
		if idx < 0 || c.generation != generation {
			cancelled := c.generation != generation
			c.mu.Unlock()
			log.Info("Discarded result for item no longer in batch", logger.String("itemId", id))
			if cancelled {
				report.Cancelled = true
				break
			}
			continue
		}

		item = c.items[idx]
		if err != nil && ctx.Err() != nil {
			// drain context ended (shutdown), not a provider failure
			item.Status = models.StatusPending
			progress = c.progressLocked()
			c.mu.Unlock()

			report.Cancelled = true
			log.Warn("Drain interrupted, item returned to pending",
				logger.String("itemId", id),
				logger.Error(err),
			)
			c.persist(ctx)
			c.observers.emit(Event{Type: EventStatusChanged, ItemID: id, Status: models.StatusPending, Progress: progress})
			break
		}

		var rec *models.ArchiveRecord
		if err != nil {
			item.Status = models.StatusFailed
			item.ErrorMessage = c.failureMessage(err)
			report.Failed++
			log.Warn("Extraction failed",
				logger.String("itemId", id),
				logger.Error(err),
			)
		} else {
			item.Status = models.StatusCompleted
			item.ExtractedText = result.Text
			item.Explanation = result.Explanation
			item.LatencyMs = latency.Milliseconds()
			r := models.NewArchiveRecord(item, c.now())
			rec = &r
			report.Completed++
			log.Info("Extraction completed",
				logger.String("itemId", id),
				logger.Duration("latency", latency),
				logger.String("kind", string(result.Kind)),
			)
		}
		status := item.Status
		progress = c.progressLocked()
		c.mu.Unlock()

		c.persist(ctx)
		c.observers.emit(Event{Type: EventStatusChanged, ItemID: id, Status: status, Progress: progress})

		if rec != nil {
			c.archiveAsync(ctx, log, *rec)
		}
	}
	return report
}

func (c *Controller) extract(ctx context.Context, input models.Asset, credential, instructions string) (agent.Result, time.Duration, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.extractor.Extract(callCtx, input, credential, instructions)
	latency := time.Since(start)

	if err != nil && c.timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("extraction timed out after %s", c.timeout)
	}
	return result, latency, err
}

func (c *Controller) failureMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return defaultFailureMessage
}

// archiveAsync writes rec without blocking the drain; failures are logged only.
func (c *Controller) archiveAsync(ctx context.Context, log logger.Logger, rec models.ArchiveRecord) {
	if c.archive == nil {
		return
	}
	c.archiving.Add(1)
	go func() {
		defer c.archiving.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()

		if err := c.archive.Create(actx, rec); err != nil {
			log.Error("Failed to archive record",
				logger.String("itemId", rec.ID),
				logger.Error(err),
			)
			return
		}
		log.Debug("Record archived", logger.String("itemId", rec.ID))
	}()
}

// persist saves the current batch. saveMu orders writes so a later save never carries
// an older snapshot.
func (c *Controller) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		c.logger.Error("Failed to save workspace",
			logger.Int("items", len(snapshot)),
			logger.Error(err),
		)
	}
}

func (c *Controller) createHandle(id string, a models.Asset) models.Handle {
	if c.handles == nil || a.Empty() {
		return ""
	}
	h, err := c.handles.Create(a.Data)
	if err != nil {
		c.logger.Warn("Failed to create display handle",
			logger.String("itemId", id),
			logger.Error(err),
		)
		return ""
	}
	return h
}

func (c *Controller) releaseHandle(h models.Handle) {
	if c.handles != nil && h != "" {
		c.handles.Release(h)
	}
}

func (c *Controller) releaseHandles(it *models.WorkItem) {
	c.releaseHandle(it.SourceHandle)
	c.releaseHandle(it.EditedHandle)
	it.SourceHandle = ""
	it.EditedHandle = ""
}

func (c *Controller) indexLocked(id string) int {
	for i, it := range c.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) snapshotLocked() []*models.WorkItem {
	out := make([]*models.WorkItem, len(c.items))
	for i, it := range c.items {
		out[i] = it.Clone()
	}
	return out
}

func (c *Controller) progressLocked() Progress {
	p := Progress{Total: len(c.items), Running: c.draining}
	for _, it := range c.items {
		switch it.Status {
		case models.StatusPending:
			p.Pending++
		case models.StatusProcessing:
			p.Processing++
		case models.StatusCompleted:
			p.Completed++
		case models.StatusFailed:
			p.Failed++
		}
	}
	return p
}
