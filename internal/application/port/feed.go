package port

import (
	"context"

	"tickerhub/internal/domain"
)

// Subscriber is the upstream subscribe surface shared by the rotation
// scheduler and the demand manager.
type Subscriber interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// VenueFeed owns one streaming connection to an upstream venue. Start returns
// the canonical tick channel; the channel closes when the feed stops. One
// consumer drains the channel, preserving per-connection arrival order.
type VenueFeed interface {
	Subscriber
	Name() string
	Start(ctx context.Context, universe []string) (<-chan domain.Tick, error)
	Stop()
}
