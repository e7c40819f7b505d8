package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantpulse/identity-api/internal/queue"
	"go.uber.org/zap"
)

type fakeDeliverer struct {
	delivered []string
	err       error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, email, linkURL string) error {
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, email)
	return nil
}

func TestEmailSender_ProcessMagicLinkEmailJob(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	sender := NewEmailSender(deliverer, zap.NewNop())

	job := queue.NewMagicLinkEmailJob("user@example.com", "https://api.example.com/auth/magic-link/verify?token=x&sig=y", time.Now().Add(time.Hour))
	if err := sender.ProcessMagicLinkEmailJob(context.Background(), job); err != nil {
		t.Fatalf("ProcessMagicLinkEmailJob() error = %v", err)
	}
	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != "user@example.com" {
		t.Errorf("Expected delivery to user@example.com, got %v", deliverer.delivered)
	}
}

func TestEmailSender_ProcessMagicLinkEmailJob_ExpiredJobDropped(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	sender := NewEmailSender(deliverer, zap.NewNop())

	// The link this job carries expired while the job sat in the queue.
	job := queue.NewMagicLinkEmailJob("late@example.com", "https://api.example.com/verify", time.Now().Add(-time.Minute))
	if err := sender.ProcessMagicLinkEmailJob(context.Background(), job); err != nil {
		t.Fatalf("Expected expired job to be dropped without error, got %v", err)
	}
	if len(deliverer.delivered) != 0 {
		t.Error("Expected no provider call for an expired job")
	}
}

func TestEmailSender_ProcessMagicLinkEmailJob_MissingFields(t *testing.T) {
	t.Parallel()

	sender := NewEmailSender(&fakeDeliverer{}, zap.NewNop())

	tests := []struct {
		name string
		job  *queue.Job
	}{
		{"missing email", &queue.Job{Type: queue.JobTypeMagicLinkEmail, LinkURL: "https://x"}},
		{"missing link", &queue.Job{Type: queue.JobTypeMagicLinkEmail, Email: "a@b.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sender.ProcessMagicLinkEmailJob(context.Background(), tt.job); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEmailSender_ProcessMagicLinkEmailJob_DeliveryFailure(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{err: errors.New("provider down")}
	sender := NewEmailSender(deliverer, zap.NewNop())

	job := queue.NewMagicLinkEmailJob("user@example.com", "https://api.example.com/verify", time.Now().Add(time.Hour))
	if err := sender.ProcessMagicLinkEmailJob(context.Background(), job); err == nil {
		t.Error("Expected delivery failure to surface for retry")
	}
}

func TestEmailSender_ProcessJob(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	sender := NewEmailSender(deliverer, zap.NewNop())

	job := queue.NewMagicLinkEmailJob("user@example.com", "https://api.example.com/verify", time.Now().Add(time.Hour))
	if err := sender.ProcessJob(context.Background(), job); err != nil {
		t.Errorf("ProcessJob() error = %v", err)
	}

	unknown := &queue.Job{Type: queue.JobType("reindex")}
	if err := sender.ProcessJob(context.Background(), unknown); err == nil {
		t.Error("Expected error for unknown job type")
	}
}
