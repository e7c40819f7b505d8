package workers

import (
	"context"
	"fmt"

	"github.com/quantpulse/identity-api/internal/queue"
	"go.uber.org/zap"
)

// EmailDeliverer sends one email through the external provider
type EmailDeliverer interface {
	Deliver(ctx context.Context, email, linkURL string) error
}

// EmailSender processes magic-link email delivery jobs
type EmailSender struct {
	deliverer EmailDeliverer
	logger    *zap.Logger
}

// NewEmailSender creates a new email sender
func NewEmailSender(deliverer EmailDeliverer, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		deliverer: deliverer,
		logger:    logger,
	}
}

// ProcessMagicLinkEmailJob delivers one magic-link email. Expired jobs are
// dropped without a provider call; the link they carry is already dead.
func (s *EmailSender) ProcessMagicLinkEmailJob(ctx context.Context, job *queue.Job) error {
	if job.Email == "" || job.LinkURL == "" {
		return fmt.Errorf("email and link_url are required for magic link email job")
	}

	if job.IsExpired() {
		s.logger.Info("magic_link_email_job_expired",
			zap.String("job_id", job.ID.String()),
		)
		return nil
	}

	if err := s.deliverer.Deliver(ctx, job.Email, job.LinkURL); err != nil {
		return fmt.Errorf("failed to deliver magic link email: %w", err)
	}

	s.logger.Info("magic_link_email_delivered",
		zap.String("job_id", job.ID.String()),
	)
	return nil
}

// ProcessJob dispatches a job to its handler
func (s *EmailSender) ProcessJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeMagicLinkEmail:
		return s.ProcessMagicLinkEmailJob(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
