package queue

import (
	"context"
	"errors"

	"github.com/biomedkg/kgx/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	RetryHeader = "x-retries"

	ResultAck   = "ack"
	ResultRetry = "retry"
	ResultDLQ   = "dlq"
	ResultNack  = "nack"
)

// Retries reads the retry counter of a delivery.
func Retries(headers amqp091.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleFailure routes a delivery whose processing failed with err. Messages
// that can never succeed, see ErrInvalidMessage, go straight to the DLQ;
// everything else takes the retry path of HandleProcessingError.
func HandleFailure(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, maxRetries int, err error) string {
	if errors.Is(err, ErrInvalidMessage) {
		return DeadLetter(ctx, ch, msg, queueName)
	}
	return HandleProcessingError(ctx, ch, msg, queueName, maxRetries)
}

// DeadLetter publishes a delivery to queueName_dlq and acks it. The delivery
// is requeued when publishing fails.
func DeadLetter(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string) string {
	dlqName := queueName + DLQSuffix
	logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", Retries(msg.Headers))
	pubErr := ch.PublishWithContext(
		ctx,
		"",
		dlqName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
		_ = msg.Nack(false, true)
		return ResultNack
	}
	_ = msg.Ack(false)
	return ResultDLQ
}

// HandleProcessingError moves a failed delivery on: to queueName_retry with
// an incremented x-retries header, or to queueName_dlq once maxRetries is
// reached. The original delivery is acked after a successful publish and
// requeued when publishing fails. The returned result names the path taken.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, maxRetries int) string {
	retries := Retries(msg.Headers)
	if retries >= maxRetries {
		return DeadLetter(ctx, ch, msg, queueName)
	}

	retryName := queueName + RetrySuffix
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(retries + 1)

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return ResultNack
	}
	_ = msg.Ack(false)
	return ResultRetry
}
