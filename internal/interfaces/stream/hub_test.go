package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tickerhub/internal/domain"
)

type mockQuoteCache struct {
	mu       sync.Mutex
	lastSent map[string]string
	writes   int
}

func newMockQuoteCache() *mockQuoteCache {
	return &mockQuoteCache{lastSent: make(map[string]string)}
}

func (m *mockQuoteCache) Quote(context.Context, string) (string, string, bool, error) {
	return "", "", false, nil
}

func (m *mockQuoteCache) SetQuote(context.Context, string, string, string, time.Duration) error {
	return nil
}

func (m *mockQuoteCache) LastSent(_ context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSent[symbol], nil
}

func (m *mockQuoteCache) SetLastSent(_ context.Context, symbol, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSent[symbol] = value
	m.writes++
	return nil
}

type mockAcquirer struct {
	mu       sync.Mutex
	acquired []string
	released []string
}

func (m *mockAcquirer) Acquire(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = append(m.acquired, symbol)
	return nil
}

func (m *mockAcquirer) Release(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, symbol)
	return nil
}

func testClient(h *Hub, buf int) *Client {
	c := &Client{hub: h, send: make(chan []byte, buf)}
	h.register(c)
	return c
}

func tickFor(symbol, price, change string) domain.Tick {
	return domain.Tick{
		Symbol:     symbol,
		Price:      domain.ParseDecimal(price),
		ChangeRate: domain.ParseDecimal(change),
		Ts:         time.Now().UnixMilli(),
	}
}

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	cache := newMockQuoteCache()
	upstream := &mockAcquirer{}
	h := NewHub(upstream, cache)

	c := testClient(h, 4)
	ack := h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`))
	if ack.Status != "success" {
		t.Fatalf("subscribe ack: %+v", ack)
	}
	if len(upstream.acquired) != 1 || upstream.acquired[0] != "KRW-BTC" {
		t.Fatalf("upstream acquire: %v", upstream.acquired)
	}

	tick := tickFor("KRW-BTC", "71500000", "0.012")
	h.Broadcast(context.Background(), tick)

	select {
	case payload := <-c.send:
		var got quotePayload
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if got.Type != "price_update" {
			t.Fatalf("payload type: %s", got.Type)
		}
		if got.Symbol != "KRW-BTC" || got.Price != "71500000" || got.ChangeRate != "0.012" {
			t.Fatalf("unexpected payload: %+v", got)
		}
		if got.Timestamp != tick.Ts {
			t.Fatalf("timestamp: got %d, want %d", got.Timestamp, tick.Ts)
		}
	default:
		t.Fatal("no payload delivered")
	}
}

func TestBroadcastSkipsWithoutSubscribers(t *testing.T) {
	cache := newMockQuoteCache()
	h := NewHub(nil, cache)

	h.Broadcast(context.Background(), tickFor("KRW-BTC", "71500000", "0.012"))

	if cache.writes != 0 {
		t.Fatalf("expected no last-sent writes, got %d", cache.writes)
	}
}

func TestBroadcastDedupsIdenticalPayload(t *testing.T) {
	cache := newMockQuoteCache()
	h := NewHub(nil, cache)
	c := testClient(h, 4)
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`))

	h.Broadcast(context.Background(), tickFor("KRW-BTC", "71500000", "0.012"))
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "71500000", "0.012"))
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "71600000", "0.013"))

	if got := len(c.send); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
}

func TestBroadcastDropsClosedMarket(t *testing.T) {
	h := NewHub(nil, nil)
	c := testClient(h, 4)
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"005930"}`))
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`))

	// 03:00 local: domestic session closed, crypto always open.
	h.refreshMarketHours(time.Date(2025, 3, 3, 3, 0, 0, 0, time.Local))

	h.Broadcast(context.Background(), tickFor("005930", "71500", "0.7"))
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "71500000", "0.012"))

	if got := len(c.send); got != 1 {
		t.Fatalf("expected only the crypto delivery, got %d", got)
	}
}

func TestUnsubscribeReleasesUpstreamOnLast(t *testing.T) {
	upstream := &mockAcquirer{}
	h := NewHub(upstream, nil)
	c1 := testClient(h, 4)
	c2 := testClient(h, 4)

	h.HandleControl(c1, []byte(`{"type":"subscribe","symbol":"AAPL"}`))
	h.HandleControl(c2, []byte(`{"type":"subscribe","symbol":"AAPL"}`))
	if len(upstream.acquired) != 1 {
		t.Fatalf("expected one acquire, got %v", upstream.acquired)
	}

	h.HandleControl(c1, []byte(`{"type":"unsubscribe","symbol":"AAPL"}`))
	if len(upstream.released) != 0 {
		t.Fatalf("released too early: %v", upstream.released)
	}
	h.HandleControl(c2, []byte(`{"type":"unsubscribe","symbol":"AAPL"}`))
	if len(upstream.released) != 1 || upstream.released[0] != "AAPL" {
		t.Fatalf("expected release after last unsubscribe: %v", upstream.released)
	}
}

func TestDisconnectReleasesHeldSymbols(t *testing.T) {
	upstream := &mockAcquirer{}
	h := NewHub(upstream, nil)
	c := testClient(h, 4)
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"AAPL"}`))
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"005930"}`))

	h.unregister(c)
	if len(upstream.released) != 2 {
		t.Fatalf("expected both symbols released, got %v", upstream.released)
	}
	if h.SubscriberCount("AAPL") != 0 {
		t.Fatal("subscriber map not cleaned")
	}

	// A second unregister for the same session is a no-op.
	h.unregister(c)
}

func TestSlowSessionPruned(t *testing.T) {
	h := NewHub(nil, nil)
	c := testClient(h, 1)
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`))

	h.Broadcast(context.Background(), tickFor("KRW-BTC", "1", "0.1"))
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "2", "0.2"))

	if h.SubscriberCount("KRW-BTC") != 0 {
		t.Fatal("slow session should have been pruned")
	}
}

func TestPrunedSessionChurnIsSafe(t *testing.T) {
	h := NewHub(nil, nil)
	c := testClient(h, 1)
	h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`))

	// Fill the session's buffer, then let the next broadcast prune it.
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "1", "0.1"))
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "2", "0.2"))
	if h.SubscriberCount("KRW-BTC") != 0 {
		t.Fatal("expected prune")
	}

	// The session's read loop may still process a control frame before it
	// notices the teardown; a closed session must not re-attach.
	if ack := h.HandleControl(c, []byte(`{"type":"subscribe","symbol":"KRW-BTC"}`)); ack.Status != "error" {
		t.Fatalf("closed session re-attached: %+v", ack)
	}
	if h.SubscriberCount("KRW-BTC") != 0 {
		t.Fatal("closed session must not hold subscriptions")
	}

	// Queueing to a closed session is refused, never a panic.
	if h.trySend(c, []byte("x")) {
		t.Fatal("send to closed session must be refused")
	}
	h.Broadcast(context.Background(), tickFor("KRW-BTC", "3", "0.3"))

	// The connection finally drops and the read loop's deferred teardown
	// runs; the second unregister is a no-op.
	h.unregister(c)
}

func TestControlRejectsMalformedRequests(t *testing.T) {
	h := NewHub(nil, nil)
	c := testClient(h, 4)

	if ack := h.HandleControl(c, []byte(`not json`)); ack.Status != "error" {
		t.Fatalf("expected error ack: %+v", ack)
	}
	if ack := h.HandleControl(c, []byte(`{"type":"subscribe"}`)); ack.Status != "error" {
		t.Fatalf("expected error for missing symbol: %+v", ack)
	}
	if ack := h.HandleControl(c, []byte(`{"type":"noop","symbol":"AAPL"}`)); ack.Status != "error" {
		t.Fatalf("expected error for unknown type: %+v", ack)
	}
}
