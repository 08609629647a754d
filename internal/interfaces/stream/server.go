package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// ServeWS upgrades one HTTP request into a streaming session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	c := newClient(h, conn)
	h.register(c)
	go c.writePump()
	go c.readPump()
}

// NewServer builds the streaming HTTP server with the hub mounted at /ws.
func NewServer(addr string, h *Hub) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
