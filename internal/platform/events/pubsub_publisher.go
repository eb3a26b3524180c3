// Package events publishes order and ledger events to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/gymhub/api/internal/services"
)

// Envelope is the JSON payload written to the topic.
type Envelope struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	SourceKind     string         `json:"sourceKind"`
	SourceID       string         `json:"sourceId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubPublisher implements services.EventPublisher on a Pub/Sub topic.
// Messages of one order or sale share an ordering key.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var _ services.EventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a publisher and enables message ordering on topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

// Publish blocks until the server acknowledges the message or ctx ends.
func (p *PubSubPublisher) Publish(ctx context.Context, event services.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	envelope := Envelope{
		ID:             p.newID(),
		Type:           event.Type,
		SourceKind:     string(event.Source.Kind),
		SourceID:       event.Source.ID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
	data, err := p.marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", envelope.ID)
	setAttr(attrs, "eventType", envelope.Type)
	setAttr(attrs, "sourceKind", envelope.SourceKind)
	setAttr(attrs, "sourceId", envelope.SourceID)
	setAttr(attrs, "status", envelope.CurrentStatus)

	orderingKey := ""
	if envelope.SourceKind != "" && envelope.SourceID != "" {
		orderingKey = envelope.SourceKind + "/" + envelope.SourceID
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		if orderingKey != "" {
			// a failed publish pauses the key until resumed
			p.topic.ResumePublish(orderingKey)
		}
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
