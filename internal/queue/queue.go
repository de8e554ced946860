package queue

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// BuildQueue carries community build requests. Failed builds are moved to
// BuildQueue + "_dlq" and are not retried automatically.
const BuildQueue = "community_build_queue"

// Publisher is the part of *amqp091.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init(url string) *amqp091.Connection {
	conn, err := amqp091.Dial(url)
	if err != nil {
		logger.Fatal("[Queue] Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares every queue and its dead letter queue.
func SetupQueues(ch *amqp091.Channel, queueNames ...string) error {
	for _, name := range queueNames {
		for _, q := range []string{name, DeadLetterQueue(name)} {
			_, err := ch.QueueDeclare(
				q,
				true,  // durable
				false, // autoDelete
				false, // exclusive
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Error("[Queue] QueueDeclare failed", "queue", q, "err", err)
				return err
			}
		}
	}

	return nil
}

func DeadLetterQueue(queueName string) string {
	return queueName + "_dlq"
}

func PublishFIFO(ctx context.Context, pub Publisher, queueName string, data []byte) error {
	return publish(ctx, pub, queueName, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func publish(ctx context.Context, pub Publisher, queueName string, msg amqp091.Publishing) error {
	return pub.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		msg,
	)
}
