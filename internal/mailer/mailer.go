package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/quantpulse/identity-api/internal/queue"
	"go.uber.org/zap"
)

// QueueMailer enqueues magic-link emails for asynchronous delivery by the
// worker. The request path never waits on the email provider.
type QueueMailer struct {
	jobs queue.JobQueue
	log  *zap.Logger
}

// NewQueueMailer creates a queue-backed mailer
func NewQueueMailer(jobs queue.JobQueue, log *zap.Logger) *QueueMailer {
	return &QueueMailer{jobs: jobs, log: log}
}

// SendMagicLink enqueues a delivery job for the link
func (m *QueueMailer) SendMagicLink(ctx context.Context, email, linkURL string, expiresAt time.Time) error {
	job := queue.NewMagicLinkEmailJob(email, linkURL, expiresAt)
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue magic link email: %w", err)
	}
	m.log.Debug("magic_link_email_enqueued", zap.String("job_id", job.ID.String()))
	return nil
}
