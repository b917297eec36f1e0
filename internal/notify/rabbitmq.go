package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher is the part of the AMQP client the notifier needs
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// JobEvent is the message body published when a job finishes
type JobEvent struct {
	Event        string     `json:"event"`
	JobID        string     `json:"job_id"`
	Filename     string     `json:"filename"`
	Status       string     `json:"status"`
	Language     string     `json:"language"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RabbitMQ publishes a JobEvent per finished job with routing key
// "<prefix>.<status>", e.g. "job.done".
type RabbitMQ struct {
	publisher Publisher
	prefix    string
	timeout   time.Duration
}

func NewRabbitMQ(publisher Publisher, routingPrefix string, timeout time.Duration) *RabbitMQ {
	if routingPrefix == "" {
		routingPrefix = "job"
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &RabbitMQ{
		publisher: publisher,
		prefix:    routingPrefix,
		timeout:   timeout,
	}
}

func (r *RabbitMQ) Notify(ctx context.Context, job domain.Job, artifactPath string) error {
	event := JobEvent{
		Event:        "job." + string(job.Status),
		JobID:        job.ID,
		Filename:     job.Filename,
		Status:       string(job.Status),
		Language:     job.Language,
		ArtifactPath: artifactPath,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	routingKey := r.prefix + "." + string(job.Status)
	if err := r.publisher.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event %s: %w", job.ID, err)
	}
	return nil
}
