package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskType 定义任务类型
const (
	TaskTypeArchiveCreate = "archive:create"
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	Close() error
}

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// AsynqQueue 实现
type AsynqQueue struct {
	client *asynq.Client
	config *QueueConfig
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = time.Minute
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	return &AsynqQueue{client: client, config: cfg}
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(q.config.MaxRetries),
		asynq.Timeout(q.config.ProcessTimeout),
		asynq.Queue(QueueName(task.Priority)),
	}
	if task.ID != "" {
		opts = append(opts, asynq.TaskID(task.ID))
	}

	t := asynq.NewTask(task.Type, payload, opts...)
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	task.ID = info.ID
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// Queues is the weighted queue set a worker should serve.
func Queues() map[string]int {
	return map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}
}

// QueueName maps a task priority to its queue.
func QueueName(priority int) string {
	switch priority {
	case 1:
		return "critical"
	case 2:
		return "default"
	default:
		return "low"
	}
}
