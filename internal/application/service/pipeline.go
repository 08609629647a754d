package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// TickFanout is the live-session broadcast surface the pipeline pushes into.
type TickFanout interface {
	Broadcast(ctx context.Context, tick domain.Tick)
}

// Pipeline drains one venue feed's tick channel in arrival order and drives
// the dedup gate, the alert matcher, the session fan-out and the
// significant-move replication topic.
type Pipeline struct {
	name          string
	gate          *PriceGate
	matcher       *AlertMatcher
	fanout        TickFanout
	mover         port.TickPublisher
	moveThreshold decimal.Decimal
}

func NewPipeline(name string, gate *PriceGate, matcher *AlertMatcher, fanout TickFanout, mover port.TickPublisher, moveThreshold decimal.Decimal) *Pipeline {
	return &Pipeline{
		name:          name,
		gate:          gate,
		matcher:       matcher,
		fanout:        fanout,
		mover:         mover,
		moveThreshold: moveThreshold,
	}
}

// Run blocks until the tick channel closes or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, ticks <-chan domain.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				log.Info().Str("pipeline", p.name).Msg("tick channel closed")
				return
			}
			p.handle(ctx, tick)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, tick domain.Tick) {
	if tick.Symbol == "" {
		return
	}
	if !p.gate.PropagateIfChanged(ctx, tick) {
		return
	}

	p.matcher.Evaluate(ctx, tick)
	p.fanout.Broadcast(ctx, tick)

	if p.mover != nil && tick.ChangeRate.Abs().GreaterThanOrEqual(p.moveThreshold) {
		if err := p.mover.PublishTick(ctx, tick); err != nil {
			log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("tick replication publish failed")
		}
	}
}
