package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
	"tickerhub/internal/infrastructure/venue"
)

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "2"

	// Pacing between control frames after a reconnect, so replayed
	// subscriptions do not trip the venue's rate limit.
	replayDelay = 100 * time.Millisecond
)

type controlRequest struct {
	Header controlHeader `json:"header"`
	Body   controlBody   `json:"body"`
}

type controlHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type controlBody struct {
	Input controlInput `json:"input"`
}

type controlInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

// Feed streams domestic and foreign equity ticks from the broker websocket.
type Feed struct {
	wsURL  string
	auth   *AuthProvider
	driver *venue.Driver

	mu          sync.Mutex
	approvalKey string
	replay      func() []string

	// replayDelay paces control frames after a reconnect; tests zero it.
	replayDelay time.Duration

	cancel context.CancelFunc
}

func NewFeed(wsURL string, auth *AuthProvider) *Feed {
	f := &Feed{wsURL: wsURL, auth: auth, replayDelay: replayDelay}
	f.driver = venue.NewDriver(f.Name(), f, 0)
	return f
}

func (f *Feed) Name() string { return "broker" }

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
	return f.sendControl(trTypeSubscribe, symbol)
}

func (f *Feed) Unsubscribe(symbol string) error {
	return f.sendControl(trTypeUnsubscribe, symbol)
}

func (f *Feed) sendControl(trType, symbol string) error {
	f.mu.Lock()
	key := f.approvalKey
	f.mu.Unlock()

	req := controlRequest{
		Header: controlHeader{
			ApprovalKey: key,
			CustType:    "P",
			TrType:      trType,
			ContentType: "utf-8",
		},
		Body: controlBody{Input: controlInput{
			TrID:  trIDFor(symbol),
			TrKey: formatTrKey(symbol),
		}},
	}
	return f.driver.Send(req)
}

// trIDFor picks the realtime transaction id by market class.
func trIDFor(symbol string) string {
	if domain.ClassifySymbol(symbol) == domain.MarketDomestic {
		return trIDDomestic
	}
	return trIDForeign
}

// formatTrKey applies the venue's exchange prefix to foreign symbols. The
// same key shape is used for subscribe and unsubscribe.
func formatTrKey(symbol string) string {
	if domain.ClassifySymbol(symbol) == domain.MarketForeign {
		return foreignKeyPrefix + symbol
	}
	return symbol
}

// URL implements venue.Protocol.
func (f *Feed) URL() string { return f.wsURL }

// OnConnect refreshes the approval key and replays live subscriptions.
func (f *Feed) OnConnect(ctx context.Context, s venue.Sender) error {
	key, err := f.auth.ApprovalKey(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.approvalKey = key
	replay := f.replay
	f.mu.Unlock()

	if replay == nil {
		return nil
	}
	for _, symbol := range replay() {
		req := controlRequest{
			Header: controlHeader{
				ApprovalKey: key,
				CustType:    "P",
				TrType:      trTypeSubscribe,
				ContentType: "utf-8",
			},
			Body: controlBody{Input: controlInput{
				TrID:  trIDFor(symbol),
				TrKey: formatTrKey(symbol),
			}},
		}
		if err := s.SendJSON(req); err != nil {
			return err
		}
		log.Debug().Str("symbol", symbol).Msg("subscription replayed")
		if f.replayDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.replayDelay):
			}
		}
	}
	return nil
}

// Decode implements venue.Protocol.
func (f *Feed) Decode(_ int, data []byte) ([]domain.Tick, error) {
	return decodeFrame(data)
}

var (
	_ port.VenueFeed = (*Feed)(nil)
	_ venue.Protocol = (*Feed)(nil)
)
