package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

const lastSentTTL = 10 * time.Minute

// Acquirer is the upstream demand surface. The hub acquires a symbol when
// its first session subscribes and releases it when the last one leaves.
type Acquirer interface {
	Acquire(symbol string) error
	Release(symbol string) error
}

type controlMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type controlAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type quotePayload struct {
	Type       string `json:"type"`
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	ChangeRate string `json:"changeRate"`
	Timestamp  int64  `json:"timestamp"`
}

// Hub fans ticks out to live websocket sessions by symbol subscription.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]map[*Client]struct{}
	sessionSubs map[*Client]map[string]struct{}
	halted      map[domain.Market]bool

	upstream Acquirer
	cache    port.QuoteCache
}

// NewHub builds a hub. upstream and cache are optional; without a cache the
// delivery dedup layer is skipped, without an upstream no demand propagates.
func NewHub(upstream Acquirer, cache port.QuoteCache) *Hub {
	return &Hub{
		subs:        make(map[string]map[*Client]struct{}),
		sessionSubs: make(map[*Client]map[string]struct{}),
		halted:      make(map[domain.Market]bool),
		upstream:    upstream,
		cache:       cache,
	}
}

// Run sweeps market-hours state once a minute until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.refreshMarketHours(time.Now())
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.refreshMarketHours(now)
		}
	}
}

func (h *Hub) refreshMarketHours(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range []domain.Market{domain.MarketDomestic, domain.MarketForeign, domain.MarketCrypto} {
		wasHalted := h.halted[m]
		halted := !m.OpenAt(now)
		h.halted[m] = halted
		if halted != wasHalted {
			log.Info().Str("market", m.String()).Bool("halted", halted).Msg("market hours state changed")
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.sessionSubs[c] = make(map[string]struct{})
	h.mu.Unlock()
	log.Debug().Msg("stream session attached")
}

// unregister is the single owner of a session's teardown. The closed flag
// makes teardown idempotent: the prune path and the read-loop defer can both
// call in, only the first one detaches and closes the send channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	released := h.detachLocked(c)
	h.mu.Unlock()

	for _, symbol := range released {
		h.releaseUpstream(symbol)
	}
	close(c.send)
}

// trySend queues a payload unless the session is closed or its buffer is
// full. The closed check and the send happen under the same read lock, so a
// concurrent unregister cannot close the channel in between.
func (h *Hub) trySend(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// detachLocked removes the session and reports symbols whose subscriber
// count dropped to zero.
func (h *Hub) detachLocked(c *Client) []string {
	var released []string
	for symbol := range h.sessionSubs[c] {
		delete(h.subs[symbol], c)
		if len(h.subs[symbol]) == 0 {
			delete(h.subs, symbol)
			released = append(released, symbol)
		}
	}
	delete(h.sessionSubs, c)
	return released
}

// HandleControl processes one inbound subscribe/unsubscribe request and
// returns the ack to send back.
func (h *Hub) HandleControl(c *Client, data []byte) controlAck {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlAck{Status: "error", Message: "malformed request"}
	}
	if msg.Symbol == "" {
		return controlAck{Status: "error", Message: "symbol required"}
	}

	switch msg.Type {
	case "subscribe":
		first, ok := h.subscribe(c, msg.Symbol)
		if !ok {
			return controlAck{Status: "error", Message: "session closed"}
		}
		if first {
			if err := h.acquireUpstream(msg.Symbol); err != nil {
				log.Warn().Str("symbol", msg.Symbol).Err(err).Msg("upstream acquire failed")
			}
		}
		return controlAck{Status: "success", Message: "subscribed " + msg.Symbol}
	case "unsubscribe":
		if last := h.unsubscribe(c, msg.Symbol); last {
			h.releaseUpstream(msg.Symbol)
		}
		return controlAck{Status: "success", Message: "unsubscribed " + msg.Symbol}
	default:
		return controlAck{Status: "error", Message: "unknown type " + msg.Type}
	}
}

// subscribe reports whether this was the symbol's first subscriber. A closed
// session cannot re-attach; its control frames race its own teardown.
func (h *Hub) subscribe(c *Client, symbol string) (first, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false, false
	}
	if h.sessionSubs[c] == nil {
		h.sessionSubs[c] = make(map[string]struct{})
	}
	h.sessionSubs[c][symbol] = struct{}{}
	if h.subs[symbol] == nil {
		h.subs[symbol] = make(map[*Client]struct{})
	}
	first = len(h.subs[symbol]) == 0
	h.subs[symbol][c] = struct{}{}
	return first, true
}

// unsubscribe reports whether this was the symbol's last subscriber.
func (h *Hub) unsubscribe(c *Client, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessionSubs[c], symbol)
	if _, ok := h.subs[symbol]; !ok {
		return false
	}
	delete(h.subs[symbol], c)
	if len(h.subs[symbol]) == 0 {
		delete(h.subs, symbol)
		return true
	}
	return false
}

func (h *Hub) acquireUpstream(symbol string) error {
	if h.upstream == nil {
		return nil
	}
	return h.upstream.Acquire(symbol)
}

func (h *Hub) releaseUpstream(symbol string) {
	if h.upstream == nil {
		return
	}
	if err := h.upstream.Release(symbol); err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("upstream release failed")
	}
}

// Broadcast delivers a tick to every session subscribed to its symbol.
// Closed-market ticks and payloads identical to the last delivery are
// dropped. Closed markets suppress delivery only: upstream subscriptions are
// left live, so reopening needs no resubscribe sweep.
func (h *Hub) Broadcast(ctx context.Context, tick domain.Tick) {
	market := domain.ClassifySymbol(tick.Symbol)

	h.mu.RLock()
	halted := h.halted[market]
	targets := make([]*Client, 0, len(h.subs[tick.Symbol]))
	for c := range h.subs[tick.Symbol] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if halted || len(targets) == 0 {
		return
	}

	price := tick.Price.String()
	change := tick.ChangeRate.String()
	fingerprint := price + "|" + change

	if h.cache != nil {
		prev, err := h.cache.LastSent(ctx, tick.Symbol)
		if err == nil && prev == fingerprint {
			return
		}
		if err := h.cache.SetLastSent(ctx, tick.Symbol, fingerprint, lastSentTTL); err != nil {
			log.Warn().Str("symbol", tick.Symbol).Err(err).Msg("last-sent write failed")
		}
	}

	payload, err := json.Marshal(quotePayload{
		Type:       "price_update",
		Symbol:     tick.Symbol,
		Price:      price,
		ChangeRate: change,
		Timestamp:  tick.Ts,
	})
	if err != nil {
		return
	}

	var stale []*Client
	for _, c := range targets {
		if !h.trySend(c, payload) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		log.Warn().Str("symbol", tick.Symbol).Msg("slow stream session dropped")
		h.unregister(c)
	}
}

// SubscriberCount reports live subscribers for a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[symbol])
}
