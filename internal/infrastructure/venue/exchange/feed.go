package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
	"tickerhub/internal/infrastructure/venue"
)

const pingInterval = 10 * time.Second

type subscribeTicket struct {
	Ticket string `json:"ticket"`
}

type subscribeBody struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
}

type tickerFrame struct {
	Code             string      `json:"code"`
	TradePrice       json.Number `json:"trade_price"`
	SignedChangeRate json.Number `json:"signed_change_rate"`
	HighPrice        json.Number `json:"high_price"`
	LowPrice         json.Number `json:"low_price"`
}

// Feed streams crypto ticks from the exchange websocket. The venue replaces
// the whole subscription on every request, so each change resends the full
// active code list.
type Feed struct {
	wsURL  string
	rest   *RestClient
	driver *venue.Driver

	mu     sync.Mutex
	active map[string]struct{}
	replay func() []string

	// fallback fetches a REST snapshot when a frame carries zero values.
	fallback func(ctx context.Context, code string) (domain.Tick, error)

	cancel context.CancelFunc
}

func NewFeed(wsURL string, rest *RestClient) *Feed {
	f := &Feed{
		wsURL:  wsURL,
		rest:   rest,
		active: make(map[string]struct{}),
	}
	f.fallback = rest.Ticker
	f.driver = venue.NewDriver(f.Name(), f, pingInterval)
	return f
}

func (f *Feed) Name() string { return "exchange" }

// SetReplaySource installs the callback that names the symbols to
// re-subscribe after a reconnect.
func (f *Feed) SetReplaySource(fn func() []string) {
	f.mu.Lock()
	f.replay = fn
	f.mu.Unlock()
}

func (f *Feed) Start(ctx context.Context, universe []string) (<-chan domain.Tick, error) {
	f.mu.Lock()
	if f.replay == nil {
		fallback := append([]string(nil), universe...)
		f.replay = func() []string { return fallback }
	}
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.driver.Run(runCtx)
	return f.driver.Out(), nil
}

func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Feed) Subscribe(symbol string) error {
	f.mu.Lock()
	f.active[symbol] = struct{}{}
	codes := f.activeCodesLocked()
	f.mu.Unlock()
	return f.sendCodes(codes)
}

func (f *Feed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	delete(f.active, symbol)
	codes := f.activeCodesLocked()
	f.mu.Unlock()
	if len(codes) == 0 {
		// The venue rejects an empty code list; the stale stream dies
		// with the next replacement.
		return nil
	}
	return f.sendCodes(codes)
}

func (f *Feed) activeCodesLocked() []string {
	codes := make([]string, 0, len(f.active))
	for c := range f.active {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func (f *Feed) sendCodes(codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	return f.driver.Send([]any{
		subscribeTicket{Ticket: fmt.Sprintf("tickerhub-%d", time.Now().UnixMilli())},
		subscribeBody{Type: "ticker", Codes: codes},
	})
}

// URL implements venue.Protocol.
func (f *Feed) URL() string { return f.wsURL }

// OnConnect replays the union of the demand-held and rotation-held codes.
func (f *Feed) OnConnect(_ context.Context, s venue.Sender) error {
	f.mu.Lock()
	if f.replay != nil {
		for _, symbol := range f.replay() {
			f.active[symbol] = struct{}{}
		}
	}
	codes := f.activeCodesLocked()
	f.mu.Unlock()

	if len(codes) == 0 {
		return nil
	}
	return s.SendJSON([]any{
		subscribeTicket{Ticket: fmt.Sprintf("tickerhub-%d", time.Now().UnixMilli())},
		subscribeBody{Type: "ticker", Codes: codes},
	})
}

// Decode implements venue.Protocol. Ticker frames arrive as binary JSON.
func (f *Feed) Decode(_ int, data []byte) ([]domain.Tick, error) {
	var frame tickerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("ticker frame: %w", err)
	}
	if frame.Code == "" {
		return nil, nil
	}

	price := domain.ParseDecimal(frame.TradePrice.String())
	change := domain.ParseDecimal(frame.SignedChangeRate.String())

	// Zero values mean the frame is unusable; refetch over REST.
	if price.IsZero() || change.IsZero() {
		log.Warn().Str("symbol", frame.Code).Msg("zero-value frame, falling back to rest")
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		tick, err := f.fallback(ctx, frame.Code)
		if err != nil {
			return nil, fmt.Errorf("rest fallback %s: %w", frame.Code, err)
		}
		return []domain.Tick{tick}, nil
	}

	return []domain.Tick{{
		Symbol:     frame.Code,
		Price:      price,
		ChangeRate: change,
		High:       domain.ParseDecimal(frame.HighPrice.String()),
		Low:        domain.ParseDecimal(frame.LowPrice.String()),
		Ts:         time.Now().UnixMilli(),
	}}, nil
}

var (
	_ port.VenueFeed = (*Feed)(nil)
	_ venue.Protocol = (*Feed)(nil)
)
