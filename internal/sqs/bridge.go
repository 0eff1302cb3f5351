// Package sqs consumes this instance's SQS queue, subscribed to the shared SNS
// topic, and republishes each envelope into the local channel hub.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
	"github.com/lalithlochan/digitagro/internal/metrics"
)

const (
	maxMessages  = 10
	waitSeconds  = 20
	errorBackoff = time.Second
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string // optional, for LocalStack
}

// API is the subset of the SQS client the bridge needs.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// snsNotification is the wrapper SNS puts around a message delivered to SQS
// without raw message delivery.
type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Bridge moves envelopes from the queue into sink.
type Bridge struct {
	client   API
	queueURL string
	sink     channels.Publisher
	logger   *zap.Logger
}

// NewBridge creates a bridge with a client built from the default AWS config.
func NewBridge(ctx context.Context, cfg Config, sink channels.Publisher, logger *zap.Logger) (*Bridge, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs bridge initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewBridgeWithClient(client, cfg.QueueURL, sink, logger), nil
}

// NewBridgeWithClient wraps an existing client.
func NewBridgeWithClient(client API, queueURL string, sink channels.Publisher, logger *zap.Logger) *Bridge {
	return &Bridge{
		client:   client,
		queueURL: queueURL,
		sink:     sink,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.logger.Info("sqs bridge started")
	for {
		if ctx.Err() != nil {
			b.logger.Info("sqs bridge stopped")
			return
		}

		if _, err := b.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			b.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}
}

// Poll receives one batch, forwards every message and returns how many were
// delivered to the sink. Malformed messages are deleted so they don't loop.
func (b *Bridge) Poll(ctx context.Context) (int, error) {
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(b.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive failed: %w", err)
	}

	delivered := 0
	for _, msg := range out.Messages {
		if b.forward(ctx, msg) {
			delivered++
		}
		b.delete(ctx, msg)
	}
	return delivered, nil
}

func (b *Bridge) forward(ctx context.Context, msg types.Message) bool {
	env, err := decodeEnvelope(aws.ToString(msg.Body))
	if err != nil {
		b.logger.Warn("dropping malformed sqs message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err),
		)
		metrics.RecordBridgeMessage("malformed")
		return false
	}

	// The hub only fails when misused; a local delivery failure is not worth
	// redelivering to every instance.
	if err := b.sink.Publish(ctx, env.Channel, env.Payload); err != nil {
		b.logger.Warn("local publish failed",
			zap.String("channel", env.Channel),
			zap.Error(err),
		)
		metrics.RecordBridgeMessage("error")
		return false
	}

	metrics.RecordBridgeMessage("delivered")
	return true
}

func (b *Bridge) delete(ctx context.Context, msg types.Message) {
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		b.logger.Warn("sqs delete failed",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err),
		)
	}
}

// decodeEnvelope accepts both SNS-wrapped bodies and raw envelopes.
func decodeEnvelope(body string) (*channels.Envelope, error) {
	var wrapper snsNotification
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}
	if wrapper.Type == "Notification" {
		body = wrapper.Message
	}

	var env channels.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Channel == "" || len(env.Payload) == 0 {
		return nil, errors.New("envelope missing channel or payload")
	}
	return &env, nil
}
