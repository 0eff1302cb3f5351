// Package sns publishes channel payloads to an SNS topic. Every gateway
// instance subscribes its own SQS queue to the topic, so a publish reaches the
// sessions held by all of them.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
)

// ChannelAttribute is the message attribute carrying the target channel, so
// queue subscriptions can filter on it.
const ChannelAttribute = "channel"

// API is the subset of the SNS client the publisher needs.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher implements channels.Publisher over an SNS topic.
type Publisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// Config holds SNS configuration.
type Config struct {
	Region   string
	TopicARN string
	Endpoint string // optional, for LocalStack
}

// NewPublisher creates a publisher from the default AWS config in cfg.Region.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sns publisher initialized",
		zap.String("topic_arn", cfg.TopicARN),
		zap.String("region", cfg.Region),
	)

	return NewPublisherWithClient(client, cfg.TopicARN, logger), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client API, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topicARN: topicARN, logger: logger}
}

// Publish wraps payload in a channels.Envelope and sends it to the topic.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	body, err := json.Marshal(channels.Envelope{Channel: channel, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			ChannelAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(channel),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	p.logger.Debug("published to sns",
		zap.String("channel", channel),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
