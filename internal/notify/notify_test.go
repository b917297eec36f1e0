package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	routingKey  string
	body        []byte
	contentType string
	hasDeadline bool
	err         error
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	f.routingKey = routingKey
	f.body = body
	f.contentType = contentType
	_, f.hasDeadline = ctx.Deadline()
	return f.err
}

type notifierFunc func(ctx context.Context, job domain.Job, artifactPath string) error

func (f notifierFunc) Notify(ctx context.Context, job domain.Job, artifactPath string) error {
	return f(ctx, job, artifactPath)
}

func finishedJob() domain.Job {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	completed := created.Add(2 * time.Minute)
	return domain.Job{
		ID:          "job-1",
		Filename:    "talk.mp3",
		Status:      domain.JobStatusDone,
		CreatedAt:   created,
		UploadPath:  "/uploads/job-1/talk.mp3",
		Language:    "en",
		StartedAt:   &started,
		CompletedAt: &completed,
	}
}

func TestRabbitMQ_PublishesEvent(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewRabbitMQ(publisher, "", 0)

	err := notifier.Notify(context.Background(), finishedJob(), "/results/job-1/talk.txt")
	require.NoError(t, err)

	assert.Equal(t, "job.done", publisher.routingKey)
	assert.Equal(t, "application/json", publisher.contentType)
	assert.True(t, publisher.hasDeadline)

	var event JobEvent
	require.NoError(t, json.Unmarshal(publisher.body, &event))
	assert.Equal(t, "job.done", event.Event)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "done", event.Status)
	assert.Equal(t, "/results/job-1/talk.txt", event.ArtifactPath)
	assert.Empty(t, event.ErrorMessage)
	require.NotNil(t, event.CompletedAt)
}

func TestRabbitMQ_FailedJobRoutingKey(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewRabbitMQ(publisher, "transcribe", time.Second)

	job := finishedJob()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = "wtm failed with exit code 1"

	require.NoError(t, notifier.Notify(context.Background(), job, ""))
	assert.Equal(t, "transcribe.failed", publisher.routingKey)
	assert.Contains(t, string(publisher.body), `"error_message":"wtm failed with exit code 1"`)
	assert.NotContains(t, string(publisher.body), "artifact_path")
}

func TestRabbitMQ_PublishError(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel closed")}
	notifier := NewRabbitMQ(publisher, "job", time.Second)

	err := notifier.Notify(context.Background(), finishedJob(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-1")
	assert.Contains(t, err.Error(), "channel closed")
}

func TestLog_WritesJobFields(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, notifier.Notify(context.Background(), finishedJob(), "/results/job-1/talk.txt"))

	out := buf.String()
	assert.Contains(t, out, "Job finished")
	assert.Contains(t, out, "job_id=job-1")
	assert.Contains(t, out, "artifact=/results/job-1/talk.txt")
}

func TestMulti(t *testing.T) {
	var calls []string
	ok := notifierFunc(func(ctx context.Context, job domain.Job, artifactPath string) error {
		calls = append(calls, "ok")
		return nil
	})
	boom := errors.New("boom")
	failing := notifierFunc(func(ctx context.Context, job domain.Job, artifactPath string) error {
		calls = append(calls, "failing")
		return boom
	})

	err := Multi{failing, ok}.Notify(context.Background(), finishedJob(), "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"failing", "ok"}, calls)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), finishedJob(), ""))
	assert.NoError(t, Multi{}.Notify(context.Background(), finishedJob(), ""))
}
