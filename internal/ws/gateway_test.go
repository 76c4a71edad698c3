package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, reg *Registry) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewConn(reg, sock, r.URL.Query().Get("user"), 0, 0)
		reg.Add(c)
		c.Start()
	}))
	t.Cleanup(func() {
		reg.Shutdown()
		srv.Close()
	})
	return srv
}

func dialUser(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	sock, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func readFrame(sock *websocket.Conn, timeout time.Duration) (inbound, error) {
	_ = sock.SetReadDeadline(time.Now().Add(timeout))
	var frame inbound
	_, raw, err := sock.ReadMessage()
	if err != nil {
		return frame, err
	}
	return frame, json.Unmarshal(raw, &frame)
}

func expectPresence(t *testing.T, sock *websocket.Conn, user, status string) {
	t.Helper()
	frame, err := readFrame(sock, time.Second)
	if err != nil {
		t.Fatalf("read presence frame: %v", err)
	}
	if frame.Op != OpPresenceUpdate {
		t.Fatalf("op = %d, want %d", frame.Op, OpPresenceUpdate)
	}
	var p PresencePayload
	if err := json.Unmarshal(frame.D, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if p.UserID != user || p.Status != status {
		t.Fatalf("presence = %+v, want %s %s", p, user, status)
	}
}

func waitConns(t *testing.T, reg *Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(reg.snapshot()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d connections", n)
}

func TestPresenceOnlineOncePerUser(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)

	alice := dialUser(t, srv, "alice")
	expectPresence(t, alice, "alice", StatusOnline)

	dialUser(t, srv, "bob")
	expectPresence(t, alice, "bob", StatusOnline)

	// A second device of an already-online user must not re-announce.
	dialUser(t, srv, "bob")
	waitConns(t, reg, 3)
	reg.Broadcast(OpDispatch, map[string]string{"marker": "x"})

	frame, err := readFrame(alice, time.Second)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if frame.Op != OpDispatch {
		t.Fatalf("expected marker dispatch, got op %d payload %s", frame.Op, frame.D)
	}
}

func TestPresenceOfflineOnLastDisconnect(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)

	alice := dialUser(t, srv, "alice")
	expectPresence(t, alice, "alice", StatusOnline)

	bob1 := dialUser(t, srv, "bob")
	expectPresence(t, alice, "bob", StatusOnline)
	bob2 := dialUser(t, srv, "bob")
	waitConns(t, reg, 3)

	// First device dropping leaves the user online.
	bob1.Close()
	waitConns(t, reg, 2)
	if !reg.Online("bob") {
		t.Fatal("bob went offline with a device still connected")
	}

	bob2.Close()
	expectPresence(t, alice, "bob", StatusOffline)
	if reg.Online("bob") {
		t.Fatal("bob still online after last disconnect")
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)

	socks := []*websocket.Conn{
		dialUser(t, srv, "a"),
		dialUser(t, srv, "b"),
		dialUser(t, srv, "b"),
	}
	waitConns(t, reg, 3)
	reg.Broadcast(OpMessageCreate, map[string]string{"id": "42"})

	for i, sock := range socks {
		for {
			frame, err := readFrame(sock, time.Second)
			if err != nil {
				t.Fatalf("conn %d: %v", i, err)
			}
			if frame.Op == OpPresenceUpdate {
				continue
			}
			if frame.Op != OpMessageCreate {
				t.Fatalf("conn %d: op = %d, want %d", i, frame.Op, OpMessageCreate)
			}
			break
		}
	}

	// A closed connection drops out of the fan-out set; the rest still
	// receive.
	socks[0].Close()
	waitConns(t, reg, 2)
	reg.Broadcast(OpMessageCreate, map[string]string{"id": "43"})
	for i, sock := range socks[1:] {
		for {
			frame, err := readFrame(sock, time.Second)
			if err != nil {
				t.Fatalf("conn %d after close: %v", i+1, err)
			}
			if frame.Op == OpPresenceUpdate {
				continue
			}
			if frame.Op != OpMessageCreate {
				t.Fatalf("conn %d after close: op = %d", i+1, frame.Op)
			}
			break
		}
	}
}

func TestSendToUserTargetsOnlyThatUser(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)

	alice := dialUser(t, srv, "alice")
	bob := dialUser(t, srv, "bob")
	waitConns(t, reg, 2)
	drainPresence(t, alice, 2)
	drainPresence(t, bob, 1)

	reg.SendToUser("bob", OpChannelCreate, map[string]string{"id": "7"})

	frame, err := readFrame(bob, time.Second)
	if err != nil {
		t.Fatalf("bob read: %v", err)
	}
	if frame.Op != OpChannelCreate {
		t.Fatalf("bob op = %d, want %d", frame.Op, OpChannelCreate)
	}
	if _, err := readFrame(alice, 100*time.Millisecond); err == nil {
		t.Fatal("alice received an event addressed to bob")
	}
}

// drainPresence swallows the presence frames a fresh observer sees.
func drainPresence(t *testing.T, sock *websocket.Conn, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		frame, err := readFrame(sock, time.Second)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if frame.Op != OpPresenceUpdate {
			t.Fatalf("drain: op = %d, want %d", frame.Op, OpPresenceUpdate)
		}
	}
}

func TestHeartbeatAckKeepsConnectionAlive(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)
	sup := NewSupervisor(reg, 20*time.Millisecond, 80*time.Millisecond)
	sup.Start()
	defer sup.Stop()

	alice := dialUser(t, srv, "alice")
	expectPresence(t, alice, "alice", StatusOnline)

	ack, _ := json.Marshal(Event{Op: OpHeartbeatAck, D: nil})
	probes := 0
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		frame, err := readFrame(alice, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("read while acking: %v", err)
		}
		if frame.Op == OpHeartbeat {
			probes++
			if err := alice.WriteMessage(websocket.TextMessage, ack); err != nil {
				t.Fatalf("write ack: %v", err)
			}
		}
	}
	if probes == 0 {
		t.Fatal("never received a heartbeat probe")
	}
	if !reg.Online("alice") {
		t.Fatal("acking connection was evicted")
	}
}

func TestHeartbeatTimeoutEvictsWithSingleOffline(t *testing.T) {
	reg := NewRegistry()
	srv := newTestServer(t, reg)
	sup := NewSupervisor(reg, 20*time.Millisecond, 60*time.Millisecond)
	sup.Start()
	defer sup.Stop()

	alice := dialUser(t, srv, "alice")
	expectPresence(t, alice, "alice", StatusOnline)
	dialUser(t, srv, "bob") // never acks
	expectPresence(t, alice, "bob", StatusOnline)

	ack, _ := json.Marshal(Event{Op: OpHeartbeatAck, D: nil})
	offline := 0
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		frame, err := readFrame(alice, 200*time.Millisecond)
		if err != nil {
			t.Fatalf("observer read: %v", err)
		}
		switch frame.Op {
		case OpHeartbeat:
			if err := alice.WriteMessage(websocket.TextMessage, ack); err != nil {
				t.Fatalf("write ack: %v", err)
			}
		case OpPresenceUpdate:
			var p PresencePayload
			if err := json.Unmarshal(frame.D, &p); err != nil {
				t.Fatalf("decode presence: %v", err)
			}
			if p.UserID == "bob" && p.Status == StatusOffline {
				offline++
				if offline == 1 {
					// observe a few more sweeps for duplicates
					deadline = time.Now().Add(300 * time.Millisecond)
				}
			}
		}
	}
	if offline != 1 {
		t.Fatalf("offline broadcasts for bob = %d, want 1", offline)
	}
	if reg.Online("bob") {
		t.Fatal("bob still registered after heartbeat timeout")
	}
}

func TestMarkAliveUnknownConnIsNoop(t *testing.T) {
	reg := NewRegistry()
	c := &Conn{userID: "ghost", send: make(chan []byte, 1), done: make(chan struct{})}
	reg.MarkAlive(c) // must not panic or register anything
	if len(reg.snapshot()) != 0 {
		t.Fatal("MarkAlive registered an unknown connection")
	}
	if _, ok := reg.UserID(c); ok {
		t.Fatal("UserID resolved an unregistered connection")
	}
}
