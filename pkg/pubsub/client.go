package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/library-catalog/pkg/broker"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

const (
	attrRoutingKey = "routing_key"
	attrEventType  = "event_type"
	attrMessageID  = "message_id"
	attrTimestamp  = "timestamp"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub topic is required")
)

// Publisher sends catalog events to a single Pub/Sub topic. The routing key
// travels as a message attribute so subscriptions can filter on it.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	projectID string
	topic     string
}

// NewPublisher creates a Pub/Sub v2 client and verifies the topic exists.
func NewPublisher(ctx context.Context, gcp config.GCPConfig, cfg config.BrokerConfig, logg *logger.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.PubSubTopic) == "" {
		return nil, errTopicRequired
	}

	if gcp.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	p := &Publisher{
		client:    psClient,
		projectID: gcp.ProjectID,
	}
	p.topic = p.topicResourceName(cfg.PubSubTopic)
	p.publisher = psClient.Publisher(p.topic)

	if err := p.Ping(ctx); err != nil {
		p.publisher.Stop()
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", p.topic), "pubsub publisher ready")
	}
	return p, nil
}

// Publish sends msg and waits for the server to assign an id.
func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	if p == nil || p.publisher == nil {
		return errors.New("pubsub publisher not initialized")
	}
	attrs := map[string]string{
		attrRoutingKey: msg.RoutingKey,
		attrEventType:  msg.Type,
		attrMessageID:  msg.MessageID,
	}
	if !msg.Timestamp.IsZero() {
		attrs[attrTimestamp] = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range msg.Headers {
		attrs[k] = v
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       msg.Body,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}
	return nil
}

// Ping verifies the configured topic exists.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("pubsub client not initialized")
	}
	_, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: p.topic})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", p.topic)
		}
		return fmt.Errorf("checking topic %q: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.publisher != nil {
		p.publisher.Stop()
	}
	return p.client.Close()
}

func (p *Publisher) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", strings.TrimSpace(p.projectID), n)
}

var _ broker.Publisher = (*Publisher)(nil)
