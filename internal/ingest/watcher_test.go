package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type chanSink struct {
	groups chan [][]byte
	err    error
}

func newChanSink() *chanSink {
	return &chanSink{groups: make(chan [][]byte, 8)}
}

func (s *chanSink) Submit(_ context.Context, raws [][]byte) (*extraction.SubmitResult, error) {
	s.groups <- raws
	if s.err != nil {
		return nil, s.err
	}
	accepted := make([]extraction.ItemView, len(raws))
	return &extraction.SubmitResult{Accepted: accepted}, nil
}

func (s *chanSink) next(t *testing.T) [][]byte {
	t.Helper()
	select {
	case g := <-s.groups:
		return g
	case <-time.After(3 * time.Second):
		t.Fatal("no submission received")
		return nil
	}
}

func startWatcher(t *testing.T, cfg WatchConfig, sink Sink) *logger.TestLogger {
	t.Helper()
	log := logger.NewTestLogger()
	w, err := NewWatcher(cfg, sink, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return log
}

func TestWatcherGroupsBurst(t *testing.T) {
	dir := t.TempDir()
	sink := newChanSink()
	startWatcher(t, WatchConfig{Dir: dir, Debounce: 100 * time.Millisecond}, sink)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("second"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("first"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.png"), []byte("ignored"), 0644))

	group := sink.next(t)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, group)

	select {
	case extra := <-sink.groups:
		t.Fatalf("unexpected second group: %q", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherInitialScanAndRemove(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "waiting.png")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0644))

	sink := newChanSink()
	startWatcher(t, WatchConfig{Dir: dir, InitialScan: true, RemoveAfterSubmit: true, Debounce: 50 * time.Millisecond}, sink)

	assert.Equal(t, [][]byte{[]byte("already here")}, sink.next(t))
	require.Eventually(t, func() bool {
		_, err := os.Stat(existing)
		return errors.Is(err, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherKeepsRejectedFiles(t *testing.T) {
	dir := t.TempDir()
	sink := newChanSink()
	sink.err = errors.New("1 of 1 images could not be processed")
	log := startWatcher(t, WatchConfig{Dir: dir, RemoveAfterSubmit: true, Debounce: 50 * time.Millisecond}, sink)

	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	sink.next(t)

	require.Eventually(t, func() bool {
		return log.HasMessage("ERROR", "Failed to submit dropped files")
	}, 2*time.Second, 10*time.Millisecond)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestNewWatcherRequiresDir(t *testing.T) {
	_, err := NewWatcher(WatchConfig{}, newChanSink(), logger.NewNop())
	assert.Error(t, err)
}
