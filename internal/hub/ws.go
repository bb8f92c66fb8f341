package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs a session until the peer goes away.
// A non-empty target subscribes the session to that station on all channels.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, target string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := h.Register()
	if target != "" {
		if err := h.Subscribe(s.id, target, nil); err != nil {
			h.logger.Warn("Initial subscription failed", zap.String("target_id", target), zap.Error(err))
		}
	}
	h.logger.Info("WebSocket connected",
		zap.String("session_id", s.id),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	go h.writePump(conn, s)
	h.readPump(conn, s)
}

func (h *Hub) readDeadline() time.Duration {
	return h.cfg.PongWait * time.Duration(h.cfg.MaxMissedPongs)
}

func (h *Hub) readPump(conn *websocket.Conn, s *Session) {
	defer func() {
		h.Disconnect(s.id)
		conn.Close()
	}()

	if h.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	extend := func() {
		if d := h.readDeadline(); d > 0 {
			conn.SetReadDeadline(time.Now().Add(d))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		h.Pong(s.id)
		extend()
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}
		extend()
		h.handleInbound(s, raw)
	}
}

func (h *Hub) handleInbound(s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendDirect(s, TypeError, "", errorPayload{Message: "malformed message"})
		return
	}

	switch env.Type {
	case TypeSubscribe:
		var p subscribePayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.sendDirect(s, TypeError, env.TargetID, errorPayload{Message: "malformed subscribe payload"})
				return
			}
		}
		if err := h.Subscribe(s.id, env.TargetID, p.Channels); err != nil && !errors.Is(err, ErrSessionClosed) {
			h.sendDirect(s, TypeError, env.TargetID, errorPayload{Message: err.Error()})
		}
	case TypeUnsubscribe:
		h.Unsubscribe(s.id, env.TargetID)
	case TypePing:
		h.Pong(s.id)
		h.sendDirect(s, TypePong, "", nil)
	case TypePong:
		h.Pong(s.id)
	default:
		h.sendDirect(s, TypeError, env.TargetID, errorPayload{Message: "unsupported message type: " + string(env.Type)})
	}
}

func (h *Hub) writePump(conn *websocket.Conn, s *Session) {
	ticker := h.clock.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	setDeadline := func() {
		if h.cfg.WriteWait > 0 {
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		}
	}

	for {
		select {
		case <-s.Done():
			setDeadline()
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-s.Ready():
			for _, env := range s.Drain() {
				setDeadline()
				if err := conn.WriteJSON(env); err != nil {
					h.logger.Debug("WebSocket write failed", zap.String("session_id", s.id), zap.Error(err))
					h.Disconnect(s.id)
					return
				}
			}
		case <-ticker.Chan():
			if err := h.Heartbeat(s.id); err != nil {
				return
			}
			setDeadline()
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Disconnect(s.id)
				return
			}
		}
	}
}
