package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/community"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

var ErrInvalidMessage = errors.New("invalid build message")

// BuildMessage requests one full community rebuild.
type BuildMessage struct {
	JobID       string    `json:"job_id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Builder runs a community build.
type Builder interface {
	Build(ctx context.Context) (community.BuildReport, error)
}

// Producer enqueues build requests.
type Producer struct {
	pub Publisher
}

func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// EnqueueBuild publishes a build request and returns it with its job id.
func (p *Producer) EnqueueBuild(ctx context.Context, reason string) (BuildMessage, error) {
	msg := BuildMessage{
		JobID:       uuid.NewString(),
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal build message: %w", err)
	}
	if err := PublishFIFO(ctx, p.pub, BuildQueue, data); err != nil {
		return msg, fmt.Errorf("failed to publish build message: %w", err)
	}
	logger.Info("[Queue] Build requested", "job_id", msg.JobID, "reason", reason)
	return msg, nil
}

func parseBuildMessage(body []byte) (BuildMessage, error) {
	var msg BuildMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.JobID == "" {
		return msg, fmt.Errorf("%w: missing job_id", ErrInvalidMessage)
	}
	return msg, nil
}

// ProcessBuildMessage runs the build requested by body. A report is returned
// whenever the build started, also when it aborted.
func ProcessBuildMessage(ctx context.Context, b Builder, body []byte) (community.BuildReport, error) {
	msg, err := parseBuildMessage(body)
	if err != nil {
		return community.BuildReport{}, err
	}

	log := logger.With("job_id", msg.JobID)
	log.Info("[Queue] Starting community build", "reason", msg.Reason, "requested_at", msg.RequestedAt)

	report, err := b.Build(ctx)
	if err != nil {
		return report, fmt.Errorf("community build %s failed: %w", msg.JobID, err)
	}
	if len(report.Failures) > 0 {
		log.Warn("[Queue] Community build finished with failures", "run_id", report.RunID, "failures", len(report.Failures))
	}
	return report, nil
}

// HandleDelivery processes one delivery. Success is acked. On failure the body
// is copied to the dead letter queue and the original acked; if that publish
// fails the message is requeued.
func HandleDelivery(ctx context.Context, pub Publisher, b Builder, queueName string, d amqp091.Delivery) error {
	_, processingErr := ProcessBuildMessage(ctx, b, d.Body)
	if processingErr == nil {
		if err := d.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
		return nil
	}

	logger.Error("[Queue] Error processing message", "queue", queueName, "err", processingErr)

	headers := amqp091.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-error"] = processingErr.Error()

	dlqName := DeadLetterQueue(queueName)
	logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
	pubErr := publish(ctx, pub, dlqName, amqp091.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
		if err := d.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return processingErr
	}
	if err := d.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
	return processingErr
}
