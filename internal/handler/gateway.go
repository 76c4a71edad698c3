package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelter/internal/auth"
	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/ws"
)

// GatewayConfig bounds the gateway surface.
type GatewayConfig struct {
	MaxConnections int
	SendBufferSize int
	MaxMessageSize int
	AllowedOrigins string
}

type GatewayHandler struct {
	gate     *auth.Gate
	registry *ws.Registry
	cfg      GatewayConfig
	upgrader websocket.Upgrader
}

func NewGatewayHandler(gate *auth.Gate, registry *ws.Registry, cfg GatewayConfig) *GatewayHandler {
	h := &GatewayHandler{gate: gate, registry: registry, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *GatewayHandler) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigins == "" || h.cfg.AllowedOrigins == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range strings.Split(h.cfg.AllowedOrigins, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// Serve performs the gateway handshake. Authentication runs after the
// upgrade so a rejected client receives a typed error frame before the
// 4001 close, matching what gateway clients expect.
func (h *GatewayHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("gateway: upgrade: %v", err)
		return
	}

	res := h.gate.AuthenticateAccess(r)
	if res.State == auth.StateRejected {
		frame, _ := json.Marshal(ws.Event{Op: ws.OpDispatch, D: ws.ErrorPayload{Code: res.Err.Code, Message: res.Err.Message}})
		_ = sock.WriteMessage(websocket.TextMessage, frame)
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(ws.CloseAuthFailure, res.Err.Code),
			time.Now().Add(time.Second))
		_ = sock.Close()
		return
	}

	if h.cfg.MaxConnections > 0 && h.registry.Count() >= h.cfg.MaxConnections {
		logger.Errorf("gateway: connection limit reached, refusing user=%s", res.UserID)
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"),
			time.Now().Add(time.Second))
		_ = sock.Close()
		return
	}

	c := ws.NewConn(h.registry, sock, res.UserID, h.cfg.SendBufferSize, h.cfg.MaxMessageSize)
	h.registry.Add(c)
	c.Start()
}
