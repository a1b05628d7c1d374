package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics published after definition changes commit.
const (
	TopicFlowChainReplaced          = "flowchain.replaced"
	TopicCampaignFlowAttached       = "campaignflow.attached"
	TopicCampaignFlowDetached       = "campaignflow.detached"
	TopicCampaignFlowDefaultChanged = "campaignflow.default_changed"
)

// Event is the envelope of every message on the bus.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	CompanyID  string          `json:"companyId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler consumes one event. Returning an error nacks the message.
type Handler func(ctx context.Context, event Event) error

// Bus is an in-process publish/subscribe channel for domain events.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

// NewBus creates a bus. Handlers must be added before Run.
func NewBus(logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create message router: %w", err)
	}

	return &Bus{pubsub: pubsub, router: router, logger: wmLogger}, nil
}

// Publish wraps payload in an Event and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic, companyID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}

	event := Event{
		ID:         watermill.NewUUID(),
		Topic:      topic,
		CompanyID:  companyID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	msg := message.NewMessage(event.ID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set("topic", topic)
	msg.Metadata.Set("company_id", companyID)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// AddHandler registers handler for topic under a unique name.
func (b *Bus) AddHandler(name, topic string, handler Handler) {
	b.router.AddNoPublisherHandler(name, topic, b.pubsub, func(msg *message.Message) error {
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// Malformed messages are acked and dropped.
			slog.Error("dropping malformed event", "message_uuid", msg.UUID, "topic", topic, "error", err)
			return nil
		}
		return handler(msg.Context(), event)
	})
}

// Subscribe returns a raw channel of messages on topic for consumers outside the router.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Run starts delivering to handlers and blocks until ctx is cancelled or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the underlying pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close message router: %w", err)
	}
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}
