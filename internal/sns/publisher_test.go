package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
)

type mockSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, params)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublisher_PublishWrapsEnvelope(t *testing.T) {
	api := &mockSNS{}
	p := NewPublisherWithClient(api, "arn:aws:sns:eu-west-3:000000000000:digitagro-notifications", zap.NewNop())

	payload := []byte(`{"type":"new_notification","data":{"id":1}}`)
	if err := p.Publish(context.Background(), "notifications_12", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(api.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(api.inputs))
	}
	in := api.inputs[0]

	if aws.ToString(in.TopicArn) != "arn:aws:sns:eu-west-3:000000000000:digitagro-notifications" {
		t.Errorf("unexpected topic %q", aws.ToString(in.TopicArn))
	}
	if attr := in.MessageAttributes[ChannelAttribute]; aws.ToString(attr.StringValue) != "notifications_12" {
		t.Errorf("unexpected channel attribute %+v", attr)
	}

	var env channels.Envelope
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &env); err != nil {
		t.Fatalf("message is not an envelope: %v", err)
	}
	if env.Channel != "notifications_12" {
		t.Errorf("unexpected envelope channel %q", env.Channel)
	}
	if string(env.Payload) != string(payload) {
		t.Errorf("payload not carried verbatim: %s", env.Payload)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	api := &mockSNS{err: errors.New("throttled")}
	p := NewPublisherWithClient(api, "arn", zap.NewNop())

	if err := p.Publish(context.Background(), "notifications_1", []byte(`{}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewPublisher_UsesConfiguredRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")

	tests := []struct {
		name     string
		cfg      Config
		endpoint string
	}{
		{
			name: "aws",
			cfg:  Config{Region: "eu-west-3", TopicARN: "arn:aws:sns:eu-west-3:000000000000:digitagro-notifications"},
		},
		{
			name:     "localstack",
			cfg:      Config{Region: "eu-west-3", TopicARN: "arn:aws:sns:eu-west-3:000000000000:digitagro-notifications", Endpoint: "http://localhost:4566"},
			endpoint: "http://localhost:4566",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPublisher(context.Background(), tt.cfg, zap.NewNop())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			client, ok := p.client.(*sns.Client)
			if !ok {
				t.Fatalf("expected *sns.Client, got %T", p.client)
			}
			opts := client.Options()
			if opts.Region != "eu-west-3" {
				t.Errorf("expected region eu-west-3, got %q", opts.Region)
			}
			if aws.ToString(opts.BaseEndpoint) != tt.endpoint {
				t.Errorf("expected endpoint %q, got %q", tt.endpoint, aws.ToString(opts.BaseEndpoint))
			}
			if p.topicARN != tt.cfg.TopicARN {
				t.Errorf("unexpected topic %q", p.topicARN)
			}
		})
	}
}
