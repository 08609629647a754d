package venue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tickerhub/internal/domain"
)

// ErrNotConnected is returned when a control frame is sent while the
// driver has no live session.
var ErrNotConnected = errors.New("venue: not connected")

const (
	dialTimeout      = 10 * time.Second
	readDeadline     = 60 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Sender is the control-frame write surface a protocol sees.
type Sender interface {
	SendJSON(v any) error
	SendText(data []byte) error
}

// Session is one live websocket connection. Writes are serialized.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) SendText(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Protocol is the venue-specific half of a feed connection.
type Protocol interface {
	URL() string
	// OnConnect runs after each (re)connect, before any frame is read.
	// Replaying subscriptions happens here.
	OnConnect(ctx context.Context, s Sender) error
	// Decode turns one inbound frame into zero or more ticks.
	Decode(msgType int, data []byte) ([]domain.Tick, error)
}

// Driver owns the connect/read/reconnect lifecycle for one venue feed.
type Driver struct {
	name      string
	proto     Protocol
	pingEvery time.Duration

	mu   sync.RWMutex
	sess *Session

	out chan domain.Tick
}

func NewDriver(name string, proto Protocol, pingEvery time.Duration) *Driver {
	if pingEvery <= 0 {
		pingEvery = 25 * time.Second
	}
	return &Driver{
		name:      name,
		proto:     proto,
		pingEvery: pingEvery,
		out:       make(chan domain.Tick, 1024),
	}
}

func (d *Driver) Out() <-chan domain.Tick { return d.out }

// Send writes a JSON control frame on the current session.
func (d *Driver) Send(v any) error {
	d.mu.RLock()
	sess := d.sess
	d.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.SendJSON(v)
}

// Run dials, reads, and reconnects until ctx is cancelled. The tick
// channel is closed on return.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Info().Str("venue", d.name).Str("url", d.proto.URL()).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, d.proto.URL(), nil)
		cancel()
		if err != nil {
			attempt++
			log.Error().Str("venue", d.name).Int("attempt", attempt).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, reconnectBackoff) {
				return
			}
			continue
		}

		sess := &Session{conn: conn}
		d.mu.Lock()
		d.sess = sess
		d.mu.Unlock()

		if err := d.proto.OnConnect(ctx, sess); err != nil {
			log.Error().Str("venue", d.name).Err(err).Msg("ws handshake failed")
			d.dropSession(conn)
			attempt++
			if !sleepCtx(ctx, reconnectBackoff) {
				return
			}
			continue
		}

		attempt = 0
		log.Info().Str("venue", d.name).Msg("ws connected")

		err = d.readLoop(ctx, conn)
		d.dropSession(conn)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("venue", d.name).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, reconnectBackoff) {
			return
		}
	}
}

func (d *Driver) dropSession(conn *websocket.Conn) {
	d.mu.Lock()
	d.sess = nil
	d.mu.Unlock()
	_ = conn.Close()
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingTicker := time.NewTicker(d.pingEvery)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			msgType, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			ticks, err := d.proto.Decode(msgType, b)
			if err != nil {
				log.Error().Str("venue", d.name).Err(err).Msg("frame decode failed")
				continue
			}
			for _, t := range ticks {
				select {
				case d.out <- t:
				default:
					log.Warn().Str("venue", d.name).Str("symbol", t.Symbol).Msg("tick dropped, channel full")
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
