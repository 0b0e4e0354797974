package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sentinel-admin/sentinel/internal/jobs"
)

const (
	// QueueDefault carries housekeeping tasks.
	QueueDefault = "default"
	// QueueMail carries outbound mail.
	QueueMail = "mail"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeOTPPurge clears expired one-time codes.
	TaskTypeOTPPurge = "otp:purge"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueMail), asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// MailSender delivers a rendered message.
type MailSender interface {
	Send(ctx context.Context, payload SendEmailPayload) error
}

// MailJob processes TaskTypeSendEmail tasks.
type MailJob struct {
	Sender  MailSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMailJob wires dependencies for the mail handler.
func NewMailJob(sender MailSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	return &MailJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle decodes the payload and hands it to the sender. Malformed payloads
// are not retried.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sender == nil {
		return errors.New("mail: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode mail payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("mail payload without recipient: %w", asynq.SkipRetry)
	}
	tracker := metricsOr(j.Metrics).Track(TaskTypeSendEmail)
	defer func() {
		err = tracker.End(err)
	}()

	if err = j.Sender.Send(ctx, payload); err != nil {
		loggerOr(j.Logger).Error("send mail", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	loggerOr(j.Logger).Info("mail sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// OTPPurger clears one-time codes past their expiry.
type OTPPurger interface {
	PurgeExpiredOTP(ctx context.Context) (int64, error)
}

// NewOTPPurgeTask constructs the periodic purge task.
func NewOTPPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOTPPurge, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// OTPPurgeJob processes TaskTypeOTPPurge tasks.
type OTPPurgeJob struct {
	Purger  OTPPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOTPPurgeJob wires dependencies for the purge handler.
func NewOTPPurgeJob(purger OTPPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *OTPPurgeJob {
	return &OTPPurgeJob{Purger: purger, Logger: logger, Metrics: metrics}
}

// Handle clears expired codes and records how many were removed.
func (j *OTPPurgeJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("otp purge: handler not configured")
	}
	metrics := metricsOr(j.Metrics)
	tracker := metrics.Track(TaskTypeOTPPurge)
	defer func() {
		err = tracker.End(err)
	}()

	purged, err := j.Purger.PurgeExpiredOTP(ctx)
	if err != nil {
		loggerOr(j.Logger).Error("purge expired otp", slog.Any("error", err))
		return err
	}
	metrics.AddPurged("otp", purged)
	loggerOr(j.Logger).Info("purged expired otp", slog.Int64("count", purged))
	return nil
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
