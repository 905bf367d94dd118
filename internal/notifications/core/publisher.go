package core

import (
	"context"
	"log/slog"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"weatherrules/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NotificationPublisher serializes NotificationMessages onto the
// notification queue.
type NotificationPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewNotificationPublisher creates a publisher targeting queueURL.
func NewNotificationPublisher(client SQSSender, queueURL string, logger types.Logger) *NotificationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish sends msg as JSON. The channel and farm are copied into message
// attributes so queue consumers can filter without decoding the body.
func (p *NotificationPublisher) Publish(ctx context.Context, msg types.NotificationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification publisher: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(string(msg.Channel))},
			"farm_id": {DataType: aws.String("String"), StringValue: aws.String(msg.FarmID)},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("notification publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("notification message published",
		"notification_id", msg.NotificationID,
		"message_id", aws.ToString(out.MessageId),
		"farm_id", msg.FarmID,
		"rule_id", msg.RuleID,
		"trace_id", msg.TraceID,
	)
	return nil
}
