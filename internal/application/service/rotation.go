package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
)

// RotationConfig carries the venue-specific rotation pacing. SendDelay and
// MidPause are rate-limit pacing between individual upstream requests, not
// correctness-critical waits; tests set them to zero.
type RotationConfig struct {
	BatchSize int
	Interval  time.Duration
	SendDelay time.Duration
	MidPause  time.Duration
}

// RotationScheduler cycles upstream subscriptions through fixed-size batches
// of a symbol universe, because venues cap concurrent live subscriptions.
// At most one batch is live per scheduler at any time.
type RotationScheduler struct {
	target port.Subscriber
	cfg    RotationConfig

	mu      sync.Mutex
	batches [][]string
	cursor  int
	active  []string
}

func NewRotationScheduler(target port.Subscriber, universe []string, cfg RotationConfig) *RotationScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	return &RotationScheduler{
		target:  target,
		cfg:     cfg,
		batches: Partition(universe, cfg.BatchSize),
	}
}

// Partition splits symbols into consecutive batches of at most size. The
// stride equals the slice length, so every symbol lands in exactly one batch.
func Partition(symbols []string, size int) [][]string {
	if size <= 0 || len(symbols) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(symbols)+size-1)/size)
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := make([]string, end-i)
		copy(batch, symbols[i:end])
		batches = append(batches, batch)
	}
	return batches
}

// Run rotates immediately, then on every interval until ctx is cancelled.
func (s *RotationScheduler) Run(ctx context.Context) {
	if len(s.batches) == 0 {
		log.Warn().Msg("rotation scheduler has no symbols, idle")
		<-ctx.Done()
		return
	}

	s.Rotate(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rotate(ctx)
		}
	}
}

// Rotate runs one cycle: unsubscribe the previous batch, pause, subscribe the
// next one, advance the cursor. A failed send is logged and left for the next
// pass over that batch.
func (s *RotationScheduler) Rotate(ctx context.Context) {
	s.mu.Lock()
	prev := s.active
	idx := s.cursor
	batch := s.batches[idx]
	s.cursor = (s.cursor + 1) % len(s.batches)
	s.mu.Unlock()

	for _, symbol := range prev {
		if err := s.target.Unsubscribe(symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("rotation unsubscribe failed")
		}
		s.pace(ctx, s.cfg.SendDelay)
	}
	s.pace(ctx, s.cfg.MidPause)

	next := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, symbol := range batch {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		if err := s.target.Subscribe(symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("rotation subscribe failed")
		}
		next = append(next, symbol)
		s.pace(ctx, s.cfg.SendDelay)
	}

	s.mu.Lock()
	s.active = next
	s.mu.Unlock()

	log.Debug().Int("batch", idx+1).Int("of", len(s.batches)).Int("symbols", len(next)).Msg("rotation cycle complete")
}

// ActiveBatch returns the symbols the current cycle holds live, for replay
// after a reconnect.
func (s *RotationScheduler) ActiveBatch() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.active))
	copy(out, s.active)
	return out
}

func (s *RotationScheduler) pace(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
