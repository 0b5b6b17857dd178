package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep expires idle sessions. It carries no payload; the
	// idle cutoff comes from worker configuration so a stale queued task
	// cannot apply an outdated policy.
	TaskSessionSweep = "session:sweep"
)

// NewSessionSweepTask constructs an Asynq task for the idle-session sweep.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueSessionSweep enqueues an immediate sweep, e.g. from admin tooling.
func (c *Client) EnqueueSessionSweep(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewSessionSweepTask(), asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
