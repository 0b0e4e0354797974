package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue. It satisfies auth.Mailer.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, fmt.Errorf("jobs client: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueSendEmail enqueues a send-email task on the mail queue.
func (c *Client) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// SendMail queues an HTML message for delivery by the worker.
func (c *Client) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	if _, err := c.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: htmlBody}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
