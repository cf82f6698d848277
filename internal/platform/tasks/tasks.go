package tasks

import (
	"alttext/internal/platform/redis"

	"github.com/hibiken/asynq"
)

// TaskTypeScan identifies queued site scans.
const TaskTypeScan = "scan:run"

const defaultQueue = "default"

// Client enqueues scan work onto the Redis-backed queue.
type Client struct {
	client *asynq.Client
}

func New(r *redis.Service) *Client {
	return &Client{client: asynq.NewClient(r.AsynqRedisOpt())}
}

// EnqueueScan queues one scan payload with bounded retries.
func (c *Client) EnqueueScan(payload []byte, maxRetries int) error {
	task := asynq.NewTask(TaskTypeScan, payload)
	_, err := c.client.Enqueue(task, asynq.Queue(defaultQueue), asynq.MaxRetry(maxRetries))
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
