// Package jobs runs check executions asynchronously: a manager drives the
// job state machine, a queue carries submitted job IDs to a worker pool, and
// a scheduler turns cron expressions into jobs.
package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/veriflow-io/veriflow/internal/config"
)

// Queue carries submitted job IDs from the API process to the workers.
type Queue interface {
	// Enqueue publishes a job ID and returns the task id it rides on.
	Enqueue(ctx context.Context, jobID string) (string, error)

	// Consume blocks, invoking handle for each received job ID until ctx is
	// cancelled. handle must not block the consumer; dispatch is the
	// handler's concern.
	Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error

	Close() error
}

// NewQueue selects the queue implementation: a Kafka topic when BROKER_URL
// is set, an in-process channel otherwise. Single-binary deployments use the
// channel; the Kafka path lets the API and workers run as separate processes.
func NewQueue() Queue {
	broker := config.GetEnvStr("BROKER_URL", "")
	if broker == "" {
		return NewChannelQueue(config.GetEnvInt("VERIFLOW_QUEUE_SIZE", 1024))
	}

	topic := config.GetEnvStr("VERIFLOW_QUEUE_TOPIC", "veriflow.jobs")
	group := config.GetEnvStr("VERIFLOW_QUEUE_GROUP", "veriflow-workers")

	return NewKafkaQueue(strings.Split(broker, ","), topic, group)
}

// ChannelQueue is the in-process queue for single-binary deployments.
type ChannelQueue struct {
	ch chan string
}

// NewChannelQueue creates a buffered in-process queue.
func NewChannelQueue(size int) *ChannelQueue {
	return &ChannelQueue{ch: make(chan string, size)}
}

// Enqueue publishes a job ID. The job ID doubles as the task id.
func (q *ChannelQueue) Enqueue(ctx context.Context, jobID string) (string, error) {
	select {
	case q.ch <- jobID:
		return jobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Consume delivers queued job IDs until ctx is cancelled.
func (q *ChannelQueue) Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error {
	for {
		select {
		case jobID := <-q.ch:
			handle(ctx, jobID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close is a no-op; the channel is owned by the garbage collector.
func (q *ChannelQueue) Close() error { return nil }

// KafkaQueue publishes job IDs to a topic and consumes them in a group, so
// multiple worker processes share the load.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue creates a queue over one topic and consumer group.
func NewKafkaQueue(brokers []string, topic, group string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: group,
		}),
	}
}

// Enqueue publishes the job ID keyed by itself; the task id is the job ID.
func (q *KafkaQueue) Enqueue(ctx context.Context, jobID string) (string, error) {
	err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(jobID),
		Value: []byte(jobID),
	})
	if err != nil {
		return "", err
	}

	return jobID, nil
}

// Consume reads the topic until ctx is cancelled.
func (q *KafkaQueue) Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error {
	for {
		msg, err := q.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			continue
		}

		handle(ctx, string(msg.Value))
	}
}

// Close shuts down the producer and the consumer group member.
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()

	if werr != nil {
		return werr
	}

	return rerr
}
