package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickerhub/internal/application/port"
)

// decimalString renders a float the same way the gate renders decimals, so
// mirrored quotes compare equal against locally ingested ones.
func decimalString(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// replicatedTick is the wire form on the replicated-tick topic.
type replicatedTick struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"changeRate"`
}

// TickMirror consumes the replicated-tick topic published by peer processes
// and writes the quotes back into the shared cache, so peers see prices for
// symbols their own venue connections do not cover.
type TickMirror struct {
	reader port.BusReader
	cache  port.QuoteCache
	ttl    time.Duration
}

func NewTickMirror(reader port.BusReader, cache port.QuoteCache, ttl time.Duration) *TickMirror {
	return &TickMirror{reader: reader, cache: cache, ttl: ttl}
}

// Run consumes until ctx is cancelled. Malformed records are dropped.
func (m *TickMirror) Run(ctx context.Context) {
	for {
		msg, err := m.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error().Err(err).Msg("tick mirror read failed")
			continue
		}

		var rt replicatedTick
		if err := json.Unmarshal(msg.Value, &rt); err != nil {
			log.Warn().Err(err).Msg("tick mirror: malformed record dropped")
			continue
		}
		if rt.Symbol == "" {
			continue
		}

		price := decimalString(rt.Price)
		change := decimalString(rt.ChangeRate)
		if err := m.cache.SetQuote(ctx, rt.Symbol, price, change, m.ttl); err != nil {
			log.Warn().Err(err).Str("symbol", rt.Symbol).Msg("tick mirror cache write failed")
		}
	}
}
