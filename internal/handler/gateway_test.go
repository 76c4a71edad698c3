package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelter/internal/auth"
	"github.com/shelter/internal/token"
	"github.com/shelter/internal/ws"
)

func newGatewayServer(t *testing.T, f *fixture) (*httptest.Server, *ws.Registry) {
	t.Helper()
	reg := ws.NewRegistry()
	gate := auth.NewGate(f.codec, f.sessions)
	h := NewGatewayHandler(gate, reg, GatewayConfig{AllowedOrigins: "*"})
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	t.Cleanup(func() {
		reg.Shutdown()
		srv.Close()
	})
	return srv, reg
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/gateway"
}

func TestGatewayRejectsWithoutAccessToken(t *testing.T) {
	f := newFixture(t)
	srv, _ := newGatewayServer(t, f)

	sock, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	var frame struct {
		Op ws.OpCode `json:"op"`
		D  struct {
			Code string `json:"code"`
		} `json:"d"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if frame.D.Code != "AUTHENTICATION_REQUIRED" {
		t.Fatalf("error code = %q", frame.D.Code)
	}

	_, _, err = sock.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code != ws.CloseAuthFailure {
		t.Fatalf("close err = %v, want code %d", err, ws.CloseAuthFailure)
	}
}

func TestGatewayRejectsRefreshTokenInAccessSlot(t *testing.T) {
	f := newFixture(t)
	srv, _ := newGatewayServer(t, f)

	refresh, err := f.codec.Sign(token.KindRefresh, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + refresh}}
	sock, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if !strings.Contains(string(raw), "INVALID_USER_TOKEN") {
		t.Fatalf("frame = %s", raw)
	}
}

func TestGatewayAdmitsValidAccessToken(t *testing.T) {
	f := newFixture(t)
	srv, reg := newGatewayServer(t, f)

	access, err := f.codec.Sign(token.KindAccess, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + access}}
	sock, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read presence frame: %v", err)
	}
	var frame struct {
		Op ws.OpCode `json:"op"`
		D  ws.PresencePayload
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Op != ws.OpPresenceUpdate || frame.D.UserID != "u1" || frame.D.Status != ws.StatusOnline {
		t.Fatalf("frame = %s", raw)
	}
	if !reg.Online("u1") {
		t.Fatal("user not registered as online")
	}
}

func TestGatewayConnectionLimit(t *testing.T) {
	f := newFixture(t)
	reg := ws.NewRegistry()
	gate := auth.NewGate(f.codec, f.sessions)
	h := NewGatewayHandler(gate, reg, GatewayConfig{AllowedOrigins: "*", MaxConnections: 1})
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	t.Cleanup(func() {
		reg.Shutdown()
		srv.Close()
	})

	access, _ := f.codec.Sign(token.KindAccess, "u1", "u1@example.com")
	header := http.Header{"Authorization": {"Bearer " + access}}

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err != nil {
		t.Fatalf("first presence frame: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for reg.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = second.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code != websocket.CloseTryAgainLater {
		t.Fatalf("close err = %v, want code %d", err, websocket.CloseTryAgainLater)
	}
}
