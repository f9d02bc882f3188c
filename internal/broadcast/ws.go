package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
}

func DefaultWSConfig() WSConfig {
	return WSConfig{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 50 * time.Second,
		ReadLimit:    4096,
	}
}

// wsSender buffers outbound messages for the connection's writer goroutine.
type wsSender struct {
	mu     sync.Mutex
	closed bool
	out    chan ServerMessage
}

func (c *wsSender) Send(msg ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *wsSender) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Handler upgrades HTTP requests to WebSocket connections served by svc.
type Handler struct {
	svc      *Service
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(svc *Service, cfg WSConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultWSConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	return &Handler{
		svc: svc,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if _, err := h.svc.Authenticate(token); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	sender := &wsSender{out: make(chan ServerMessage, h.cfg.SendBuffer)}
	connID, _, err := h.svc.Connect(token, sender)
	if err != nil {
		h.logger.Warn("connect rejected", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
		wc.Close()
		return
	}

	go h.writeLoop(wc, sender)
	h.readLoop(r.Context(), wc, connID, sender)
	h.svc.Disconnect(connID)
}

func (h *Handler) readLoop(ctx context.Context, wc *websocket.Conn, connID string, sender *wsSender) {
	if h.cfg.ReadLimit > 0 {
		wc.SetReadLimit(h.cfg.ReadLimit)
	}
	_ = wc.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", zap.String("conn", connID), zap.Error(err))
			}
			return
		}
		_ = wc.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(connID, sender, ServerMessage{Type: MsgError, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case MsgSubscribe:
			if err := h.svc.Subscribe(ctx, connID, msg.Topic); err != nil {
				h.reply(connID, sender, ServerMessage{Type: MsgError, Topic: msg.Topic, Message: err.Error()})
			}
		case MsgUnsubscribe:
			if err := h.svc.Unsubscribe(connID, msg.Topic); err != nil {
				h.reply(connID, sender, ServerMessage{Type: MsgError, Topic: msg.Topic, Message: err.Error()})
			}
		case MsgPing:
			h.reply(connID, sender, ServerMessage{Type: MsgPong})
		default:
			h.reply(connID, sender, ServerMessage{Type: MsgError, Message: "unknown message type " + msg.Type})
		}
	}
}

func (h *Handler) reply(connID string, sender *wsSender, msg ServerMessage) {
	h.svc.send(connID, sender, msg)
}

// writeLoop owns all writes to wc. It exits when the sender is closed or a
// write fails.
func (h *Handler) writeLoop(wc *websocket.Conn, sender *wsSender) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		wc.Close()
	}()

	for {
		select {
		case msg, ok := <-sender.out:
			_ = wc.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := wc.WriteJSON(msg); err != nil {
				h.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = wc.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
