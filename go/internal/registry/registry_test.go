package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holyword/trivia/go/internal/events"
)

type wsRig struct {
	reg *Registry
	url string

	mu      sync.Mutex
	conns   []*Conn
	offline []string
}

func newWsRig(t *testing.T) *wsRig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rig := &wsRig{reg: New(DefaultConfig())}
	rig.reg.OnUserOffline(func(userID string) {
		rig.mu.Lock()
		rig.offline = append(rig.offline, userID)
		rig.mu.Unlock()
	})
	go rig.reg.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := rig.reg.Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		rig.mu.Lock()
		rig.conns = append(rig.conns, conn)
		rig.mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	rig.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return rig
}

// dialConn opens a client socket and returns it alongside the server-side
// Conn the upgrade produced.
func (rig *wsRig) dialConn(t *testing.T) (*websocket.Conn, *Conn) {
	t.Helper()
	rig.mu.Lock()
	before := len(rig.conns)
	rig.mu.Unlock()

	sock, _, err := websocket.DefaultDialer.Dial(rig.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for {
		rig.mu.Lock()
		if len(rig.conns) > before {
			conn := rig.conns[len(rig.conns)-1]
			rig.mu.Unlock()
			return sock, conn
		}
		rig.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("server never registered the connection")
		}
		time.Sleep(time.Millisecond)
	}
}

func (rig *wsRig) offlineEvents() []string {
	rig.mu.Lock()
	defer rig.mu.Unlock()
	return append([]string(nil), rig.offline...)
}

func readEvent(t *testing.T, sock *websocket.Conn, want events.Type) *events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sock.SetReadDeadline(deadline)
		var ev events.Event
		if err := sock.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.Type == want {
			return &ev
		}
	}
}

func TestAuthenticateIsIdempotent(t *testing.T) {
	rig := newWsRig(t)
	sock, conn := rig.dialConn(t)
	readEvent(t, sock, events.TypeConnectionEstablished)

	rig.reg.Authenticate(conn, "alice")
	rig.reg.Authenticate(conn, "alice")

	if got := rig.reg.UserID(conn); got != "alice" {
		t.Fatalf("UserID = %q, want alice", got)
	}
	users, conns := rig.reg.Stats()
	if users != 1 || conns != 1 {
		t.Fatalf("stats = %d users %d conns, want 1/1", users, conns)
	}
}

func TestRebindMovesConnection(t *testing.T) {
	rig := newWsRig(t)
	sock, conn := rig.dialConn(t)
	readEvent(t, sock, events.TypeConnectionEstablished)

	rig.reg.Authenticate(conn, "alice")
	rig.reg.Authenticate(conn, "bob")

	if rig.reg.IsOnline("alice") {
		t.Fatal("alice still online after rebind")
	}
	if !rig.reg.IsOnline("bob") {
		t.Fatal("bob not online after rebind")
	}
	// Rebinding away from alice's only connection counts as her going
	// offline.
	if got := rig.offlineEvents(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("offline events = %v, want [alice]", got)
	}
}

func TestSendFansOutToAllConnections(t *testing.T) {
	rig := newWsRig(t)

	tab1, conn1 := rig.dialConn(t)
	readEvent(t, tab1, events.TypeConnectionEstablished)
	tab2, conn2 := rig.dialConn(t)
	readEvent(t, tab2, events.TypeConnectionEstablished)

	rig.reg.Authenticate(conn1, "alice")
	rig.reg.Authenticate(conn2, "alice")

	rig.reg.Send("alice", events.MustNew(events.TypeNotification, map[string]string{"hello": "world"}))

	for _, sock := range []*websocket.Conn{tab1, tab2} {
		ev := readEvent(t, sock, events.TypeNotification)
		var payload map[string]string
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["hello"] != "world" {
			t.Fatalf("payload = %v", payload)
		}
	}
}

func TestOfflineFiresOnLastCloseOnly(t *testing.T) {
	rig := newWsRig(t)

	tab1, conn1 := rig.dialConn(t)
	readEvent(t, tab1, events.TypeConnectionEstablished)
	tab2, conn2 := rig.dialConn(t)
	readEvent(t, tab2, events.TypeConnectionEstablished)

	rig.reg.Authenticate(conn1, "alice")
	rig.reg.Authenticate(conn2, "alice")

	tab1.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, conns := rig.reg.Stats(); conns == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first close never unregistered")
		}
		time.Sleep(time.Millisecond)
	}
	if got := rig.offlineEvents(); len(got) != 0 {
		t.Fatalf("offline fired with a tab still open: %v", got)
	}

	tab2.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if got := rig.offlineEvents(); len(got) == 1 && got[0] == "alice" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("offline events = %v, want [alice]", rig.offlineEvents())
		}
		time.Sleep(time.Millisecond)
	}
	if rig.reg.IsOnline("alice") {
		t.Fatal("alice still online after both tabs closed")
	}
}

// TestDeliverDuringUnregisterDoesNotPanic drives fan-out over a large
// connection snapshot while every one of those connections is concurrently
// torn down. Delivery to a connection that unregistered after the snapshot
// was taken must land in its abandoned buffer, not on a closed channel.
func TestDeliverDuringUnregisterDoesNotPanic(t *testing.T) {
	reg := New(DefaultConfig())

	const connCount = 5000
	conns := make([]*Conn, connCount)
	reg.mu.Lock()
	reg.userConns["alice"] = make(map[*Conn]bool, connCount)
	for i := range conns {
		conn := &Conn{
			ID:     fmt.Sprintf("conn-%d", i),
			userID: "alice",
			send:   make(chan []byte, 1),
			quit:   make(chan struct{}),
			reg:    reg,
		}
		reg.userConns["alice"][conn] = true
		conns[i] = conn
	}
	reg.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.deliver(broadcast{userID: "alice", data: []byte(`{}`)})
	}()
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			reg.unregister(conn)
		}
	}()
	wg.Wait()

	if users, connections := reg.Stats(); users != 0 || connections != 0 {
		t.Fatalf("stats after teardown = %d users %d conns, want 0/0", users, connections)
	}
}

func TestSendToOfflineUserIsDropped(t *testing.T) {
	rig := newWsRig(t)
	// Nothing to assert beyond "does not block or panic".
	rig.reg.Send("nobody", events.MustNew(events.TypeNotification, map[string]string{}))
}
