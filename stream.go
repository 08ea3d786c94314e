package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"fsim_map/overlay"
)

const (
	// pingInterval is how often idle clients are pinged.
	pingInterval = 30 * time.Second
	// pongWait must exceed pingInterval.
	pongWait     = pingInterval + 10*time.Second
	writeWait    = 5 * time.Second
	clientBuffer = 8
)

// FrameSource provides the frame a new client starts from.
type FrameSource interface {
	Frame() overlay.Frame
}

// hubClient is one connected browser.
type hubClient struct {
	conn   *websocket.Conn
	binary bool
	send   chan []byte

	// lastSeq is the newest frame queued so far; guarded by frameHub.mu.
	lastSeq uint64
	sent    bool
}

// frameHub fans overlay frames out to websocket clients. It implements
// overlay.Publisher; Publish never blocks on a slow client, whose queue
// simply drops the frame.
type frameHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	dropped int
}

func newFrameHub(logger *slog.Logger) *frameHub {
	return &frameHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*hubClient]struct{}),
	}
}

// encodeFrame renders f as JSON text or msgpack binary.
func encodeFrame(f overlay.Frame, binary bool) ([]byte, error) {
	if binary {
		return msgpack.Marshal(f)
	}
	return json.Marshal(f)
}

// Publish queues f to every client, encoding it at most once per format.
// A client never receives a frame older than one it already has. A format
// that fails to encode is skipped without affecting the other format.
func (h *frameHub) Publish(f overlay.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) == 0 {
		return
	}

	var encoded [2][]byte
	var failed [2]bool
	for c := range h.clients {
		if !c.wants(f.Seq) {
			continue
		}
		i := 0
		if c.binary {
			i = 1
		}
		if failed[i] {
			continue
		}
		if encoded[i] == nil {
			data, err := encodeFrame(f, c.binary)
			if err != nil {
				h.logger.Error("Frame encoding failed", slog.Bool("binary", c.binary), slog.Uint64("seq", f.Seq), slog.Any("error", err))
				failed[i] = true
				continue
			}
			encoded[i] = data
		}
		h.enqueue(c, encoded[i], f.Seq)
	}
}

func (c *hubClient) wants(seq uint64) bool {
	return !c.sent || seq > c.lastSeq
}

// enqueue hands data to c without blocking. Callers hold h.mu.
func (h *frameHub) enqueue(c *hubClient, data []byte, seq uint64) {
	select {
	case c.send <- data:
		c.lastSeq, c.sent = seq, true
	default:
		h.dropped++
	}
}

// sendCurrent queues f to a registered client unless a newer frame already
// reached it.
func (h *frameHub) sendCurrent(c *hubClient, f overlay.Frame) error {
	data, err := encodeFrame(f, c.binary)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok && c.wants(f.Seq) {
		h.enqueue(c, data, f.Seq)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *frameHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown.
func (h *frameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *frameHub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *frameHub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleWS upgrades GET /api/overlay/ws. The client gets the current frame
// first, then every newer published one. ?format=msgpack selects binary
// frames.
func (h *frameHub) handleWS(src FrameSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		binary := c.Query("format") == "msgpack"

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
			return
		}

		client := &hubClient{conn: conn, binary: binary, send: make(chan []byte, clientBuffer)}
		// Register before reading the current frame so nothing published in
		// between is lost.
		if !h.register(client) {
			conn.Close()
			return
		}
		if err := h.sendCurrent(client, src.Frame()); err != nil {
			h.logger.Error("Frame encoding failed", slog.Any("error", err))
			h.unregister(client)
			conn.Close()
			return
		}
		h.logger.Info("Overlay client connected", slog.String("remote", conn.RemoteAddr().String()), slog.Bool("binary", binary))

		go h.writePump(client)
		h.readPump(client)
	}
}

// readPump consumes control frames until the connection dies.
func (h *frameHub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("Overlay client disconnected", slog.String("remote", c.conn.RemoteAddr().String()))
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn.
func (h *frameHub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.binary {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				h.logger.Debug("WebSocket write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
