package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/angelmondragon/library-catalog/pkg/broker"
	"github.com/angelmondragon/library-catalog/pkg/config"
)

const testProject = "catalog-test"

func newFakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial fake pubsub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestPublisherPublishesWithRoutingAttributes(t *testing.T) {
	ctx := context.Background()
	srv, connOpt := newFakeServer(t)
	if _, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/" + testProject + "/topics/catalog-events"}); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	p, err := NewPublisher(ctx,
		config.GCPConfig{ProjectID: testProject},
		config.BrokerConfig{PubSubTopic: "catalog-events"},
		nil, connOpt)
	if err != nil {
		t.Fatalf("NewPublisher() error: %v", err)
	}
	defer p.Close()

	err = p.Publish(ctx, broker.Message{
		RoutingKey: "catalog.genre.genrecreated",
		MessageID:  "evt-9",
		Type:       "GenreCreated",
		Body:       []byte(`{"@type":"GenreCreated"}`),
		Timestamp:  time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Data) != `{"@type":"GenreCreated"}` {
		t.Fatalf("unexpected data %s", msgs[0].Data)
	}
	if msgs[0].Attributes["routing_key"] != "catalog.genre.genrecreated" {
		t.Fatalf("routing key attribute missing: %v", msgs[0].Attributes)
	}
	if msgs[0].Attributes["event_type"] != "GenreCreated" {
		t.Fatalf("event type attribute missing: %v", msgs[0].Attributes)
	}
}

func TestNewPublisherMissingTopic(t *testing.T) {
	_, connOpt := newFakeServer(t)
	_, err := NewPublisher(context.Background(),
		config.GCPConfig{ProjectID: testProject},
		config.BrokerConfig{PubSubTopic: "absent"},
		nil, connOpt)
	if err == nil {
		t.Fatal("expected error for missing topic")
	}
}

func TestNewPublisherValidatesConfig(t *testing.T) {
	if _, err := NewPublisher(context.Background(), config.GCPConfig{}, config.BrokerConfig{PubSubTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewPublisher(context.Background(), config.GCPConfig{ProjectID: "p"}, config.BrokerConfig{}, nil); err != errTopicRequired {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestTopicResourceName(t *testing.T) {
	p := &Publisher{projectID: "proj"}
	if got := p.topicResourceName("events"); got != "projects/proj/topics/events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := p.topicResourceName("projects/x/topics/y"); got != "projects/x/topics/y" {
		t.Fatalf("full names must pass through, got %q", got)
	}
}
