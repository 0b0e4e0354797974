package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/sentinel-admin/sentinel/jobs"
)

// TaskEnqueuer is the asynq client surface used by the jobs commands.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    TaskEnqueuer
	inspector jobs.QueueInspector
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(redis asynq.RedisClientOpt) *JobsCLI {
	client := asynq.NewClient(redis)
	inspector := asynq.NewInspector(redis)
	return &JobsCLI{client: client, inspector: inspector, closers: []io.Closer{inspector, client}}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closer := range c.closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	switch name {
	case jobs.TaskTypeOTPPurge:
		task = jobs.NewOTPPurgeTask()
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// InspectQueues reports the depth of every worker queue.
func (c *JobsCLI) InspectQueues() ([]jobs.QueueHealth, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Inspect(c.inspector)
}

// PrintStats writes one human readable line per queue.
func PrintStats(out io.Writer, stats []jobs.QueueHealth) {
	for _, q := range stats {
		_, _ = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d failed_today=%d\n",
			q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Failed)
	}
}
