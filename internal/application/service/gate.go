package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// PriceGate suppresses propagation of ticks whose price and change rate are
// identical to the last cached values. One gate instance serves one venue
// pipeline, so the TTL is the venue's quote TTL.
type PriceGate struct {
	cache port.QuoteCache
	ttl   time.Duration
}

func NewPriceGate(cache port.QuoteCache, ttl time.Duration) *PriceGate {
	return &PriceGate{cache: cache, ttl: ttl}
}

// PropagateIfChanged compares the tick against the cached quote. Unchanged
// ticks return false and write nothing; changed or first-seen ticks refresh
// the cache with a new TTL and return true. Cache read errors fail open so a
// flaky cache degrades to extra notifications, never to silence.
func (g *PriceGate) PropagateIfChanged(ctx context.Context, tick domain.Tick) bool {
	price := tick.Price.String()
	change := tick.ChangeRate.String()

	cachedPrice, cachedChange, ok, err := g.cache.Quote(ctx, tick.Symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("quote cache read failed, propagating")
	} else if ok && cachedPrice == price && cachedChange == change {
		return false
	}

	if err := g.cache.SetQuote(ctx, tick.Symbol, price, change, g.ttl); err != nil {
		log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("quote cache write failed")
	}
	return true
}
