package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/services"
)

func TestPubSubPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	publisher.newID = func() string { return "01HZEVENT" }
	defer publisher.Stop()

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	err = publisher.Publish(ctx, services.Event{
		Type:           "order.status_changed",
		Source:         domain.SourceRef{Kind: domain.SourceOrder, ID: "ord-1"},
		PreviousStatus: "pending",
		CurrentStatus:  "confirmed",
		ActorID:        "staff-1",
		OccurredAt:     occurredAt,
		Metadata:       map[string]any{"version": 2},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Envelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "01HZEVENT" || payload.SourceID != "ord-1" || payload.CurrentStatus != "confirmed" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurredAt %s", payload.OccurredAt)
	}
	if got := messages[0].Attributes["eventType"]; got != "order.status_changed" {
		t.Fatalf("expected eventType attribute, got %q", got)
	}
	if got := messages[0].OrderingKey; got != "order/ord-1" {
		t.Fatalf("expected ordering key order/ord-1, got %q", got)
	}
	if _, ok := messages[0].Attributes["actorId"]; ok {
		t.Fatalf("actor id should stay in the payload only")
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
