package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/queue"
)

type fakeQueue struct {
	tasks []*queue.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

func TestQueuedClient(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	q := &fakeQueue{}
	client := NewQueuedClient(repo, q, logger.NewTestLogger())

	rec := record("a", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, client.Create(ctx, rec))

	records, err := client.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.TaskTypeArchiveCreate, q.tasks[0].Type)
	assert.Equal(t, "archive-a", q.tasks[0].ID)

	// what the worker receives
	payload, err := json.Marshal(q.tasks[0])
	require.NoError(t, err)
	decoded, err := DecodeTask(payload)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decoded.ID)
	assert.True(t, rec.CreatedAt.Equal(decoded.CreatedAt))

	require.NoError(t, repo.Create(ctx, decoded))
	records, err = client.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, client.Delete(ctx, "a"))
}

func TestQueuedClientEnqueueError(t *testing.T) {
	client := NewQueuedClient(newTestRepo(t), &fakeQueue{err: errors.New("redis down")}, logger.NewTestLogger())
	err := client.Create(context.Background(), record("a", time.Now()))
	assert.Error(t, err)
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask([]byte("nope"))
	assert.Error(t, err)

	_, err = DecodeTask([]byte(`{"type":"other:thing","payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeTask([]byte(`{"type":"archive:create","payload":{"id":""}}`))
	assert.Error(t, err)
}
