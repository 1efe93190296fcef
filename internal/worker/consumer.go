package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mnboos/job-graph/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets the prefetch window and starts consuming
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// unacknowledged messages per consumer
	if err := w.source.SetQos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.Int("prefetch_count", w.prefetchCount),
	)
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool. It
// reports false when the delivery channel closed before ctx was canceled.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return true

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return false
			}

			msg, err := decodeRunMessage(delivery)
			if err != nil {
				w.logger.Error("Rejecting run message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead-letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
				}
				continue
			}

			select {
			case w.tasks <- runTask{msg: msg, delivery: delivery}:
				w.logger.Debug("Run dispatched to worker pool",
					slog.String("run_id", msg.RunID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.String("error", nackErr.Error()))
				}
				return true
			}
		}
	}
}

func decodeRunMessage(d amqp.Delivery) (domain.RunMessage, error) {
	var msg domain.RunMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(msg.RunID); err != nil {
		return msg, fmt.Errorf("%w: run_id %q is not a UUID", domain.ErrInvalidPayload, msg.RunID)
	}
	msg.DeliveryTag = d.DeliveryTag
	msg.Redelivered = d.Redelivered
	return msg, nil
}
