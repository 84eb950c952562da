package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Allowed extensions, lowercase without the dot.
var defaultExts = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

// Sink receives one submission group per debounce window.
type Sink interface {
	Submit(ctx context.Context, raws [][]byte) (*extraction.SubmitResult, error)
}

type WatchConfig struct {
	Dir         string
	AllowedExts map[string]struct{}
	// InitialScan submits files already present when the watcher starts.
	InitialScan bool
	Debounce    time.Duration
	// RemoveAfterSubmit deletes files once their group was accepted.
	RemoveAfterSubmit bool
}

// Watcher turns files dropped into a directory into submissions.
type Watcher struct {
	cfg    WatchConfig
	sink   Sink
	fsw    *fsnotify.Watcher
	logger logger.Logger
}

func NewWatcher(cfg WatchConfig, sink Sink, log logger.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{cfg: cfg, sink: sink, fsw: fsw, logger: log}, nil
}

// Run blocks until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info("Watching folder",
		logger.String("dir", w.cfg.Dir),
		logger.Duration("debounce", w.cfg.Debounce),
	)

	if w.cfg.InitialScan {
		existing, err := w.scan()
		if err != nil {
			w.logger.Error("Failed to scan watch folder", logger.Error(err))
		} else if len(existing) > 0 {
			w.flush(ctx, existing)
		}
	}

	pending := map[string]struct{}{}
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case e, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.allowed(e.Name) || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[e.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", logger.Error(err))

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			w.flush(ctx, paths)
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.allowed(e.Name()) {
			paths = append(paths, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
	return paths, nil
}

// flush submits paths as one group. Files that vanished in the meantime are skipped.
func (w *Watcher) flush(ctx context.Context, paths []string) {
	raws := make([][]byte, 0, len(paths))
	read := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to read dropped file", logger.String("path", p), logger.Error(err))
			continue
		}
		raws = append(raws, data)
		read = append(read, p)
	}
	if len(raws) == 0 {
		return
	}

	res, err := w.sink.Submit(ctx, raws)
	if err != nil {
		w.logger.Error("Failed to submit dropped files",
			logger.Strings("files", read),
			logger.Error(err),
		)
		return
	}
	w.logger.Info("Dropped files submitted",
		logger.Int("files", len(read)),
		logger.Int("accepted", len(res.Accepted)),
		logger.Int("discarded", res.Discarded),
	)

	if w.cfg.RemoveAfterSubmit {
		for _, p := range read {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("Failed to remove submitted file", logger.String("path", p), logger.Error(err))
			}
		}
	}
}

func (w *Watcher) allowed(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := w.cfg.AllowedExts[ext]
	return ok
}
