package port

import (
	"context"

	"tickerhub/internal/domain"
)

// AlertPublisher pushes fired alert events onto the durable alert topic.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, ev domain.AlertEvent) error
}

// TickPublisher replicates significant ticks onto the durable tick topic for
// cross-service propagation.
type TickPublisher interface {
	PublishTick(ctx context.Context, tick domain.Tick) error
}

// Message is one consumed bus record.
type Message struct {
	Key   []byte
	Value []byte
}

// BusReader is a blocking, at-least-once topic consumer.
type BusReader interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}
