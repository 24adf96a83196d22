package ports

import (
	"context"

	"github.com/aescanero/robotd/internal/domain"
)

// EventHandler processes an event delivered by an EventBus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes worker lifecycle events
type EventBus interface {
	// Publish sends an event to every subscriber of topic
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Subscribe registers handler for topic until ctx is cancelled
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	// Unsubscribe removes all handlers of topic
	Unsubscribe(ctx context.Context, topic string) error

	// Close releases resources held by the bus
	Close() error
}
