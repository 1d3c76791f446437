package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	migration "github.com/girishfury/migration"
)

// SQSClient defines the queue operations used by the consumer.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// busEnvelope is the shape EventBridge delivers to an SQS target.
type busEnvelope struct {
	DetailType string         `json:"detail-type"`
	Source     string         `json:"source"`
	Detail     map[string]any `json:"detail"`
}

// Consumer pulls bus events delivered to an SQS queue and dispatches each
// one. A message that dispatches cleanly is deleted; a failed message is
// left for the queue's redelivery policy, which the record store's
// idempotent writes make safe.
type Consumer struct {
	client     SQSClient
	queueURL   string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewConsumer creates a queue consumer feeding d.
func NewConsumer(client SQSClient, queueURL string, d *Dispatcher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:     client,
		queueURL:   queueURL,
		dispatcher: d,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("queue poll failed", "error", err)
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return fmt.Errorf("dispatcher: receive: %w", err)
	}

	for _, msg := range out.Messages {
		ev, err := decodeEnvelope([]byte(aws.ToString(msg.Body)))
		if err != nil {
			// A message this service cannot parse will never parse; drop it.
			c.logger.Error("undecodable bus message",
				"message_id", aws.ToString(msg.MessageId),
				"error", err,
			)
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}

		if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
			c.logger.Error("event dispatch failed",
				"message_id", aws.ToString(msg.MessageId),
				"detail_type", ev.DetailType,
				"error", err,
			)
			continue
		}
		c.delete(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("message delete failed", "error", err)
	}
}

func decodeEnvelope(body []byte) (migration.Event, error) {
	var env busEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return migration.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.DetailType == "" {
		return migration.Event{}, fmt.Errorf("envelope missing detail-type")
	}
	return migration.Event{
		DetailType: env.DetailType,
		Source:     env.Source,
		Detail:     env.Detail,
	}, nil
}
