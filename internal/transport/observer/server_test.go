package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"conduitnet.ai/internal/observerproto"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]*network.Snapshot
}

func (f *fakeSource) Snapshot(world string) (*network.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[world]
	return s, ok
}

func (f *fakeSource) set(s *network.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[s.World] = s
}

func newTestServer(t *testing.T, src SnapshotSource, cfg Config) *httptest.Server {
	t.Helper()
	srv := NewServer(src, cfg, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, world string) {
	t.Helper()
	err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		WorldID:         world,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn) observerproto.SnapshotMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg observerproto.SnapshotMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeSnapshot {
		t.Fatalf("unexpected message type %q", msg.Type)
	}
	return msg
}

func TestBootstrap(t *testing.T) {
	ts := newTestServer(t, &fakeSource{snaps: map[string]*network.Snapshot{}}, Config{
		Worlds:     []string{"overworld", "nether"},
		TickRateHz: 5,
	})
	resp, err := http.Get(ts.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProtocolVersion != observerproto.Version || len(got.Worlds) != 2 || got.TickRateHz != 5 || got.RegionSize != grid.RegionSize {
		t.Fatalf("unexpected bootstrap: %+v", got)
	}
}

func TestStreamSendsOnlyNewSnapshots(t *testing.T) {
	src := &fakeSource{snaps: map[string]*network.Snapshot{}}
	src.set(&network.Snapshot{World: "overworld", Tick: 1, Seq: 1})
	ts := newTestServer(t, src, Config{Worlds: []string{"overworld"}, TickRateHz: 50})

	conn := dial(t, ts)
	subscribe(t, conn, "overworld")
	if got := readSnapshot(t, conn); got.Tick != 1 || got.WorldID != "overworld" {
		t.Fatalf("first snapshot: %+v", got)
	}

	src.set(&network.Snapshot{
		World: "overworld",
		Tick:  2,
		Seq:   2,
		Regions: []network.RegionSnapshot{{
			Key:   grid.RegionKey{CX: 0, CZ: 0},
			Nodes: []network.NodeView{{Pos: grid.Pos{X: 1, Y: 2, Z: 3}, Kind: grid.Energy, Edges: grid.DirSet(0).With(grid.East)}},
		}},
	})
	got := readSnapshot(t, conn)
	if got.Tick != 2 || len(got.Regions) != 1 || len(got.Regions[0].Nodes) != 1 {
		t.Fatalf("second snapshot: %+v", got)
	}
}

func TestUnknownWorldGetsError(t *testing.T) {
	ts := newTestServer(t, &fakeSource{snaps: map[string]*network.Snapshot{}}, Config{Worlds: []string{"overworld"}})
	conn := dial(t, ts)
	subscribe(t, conn, "the_end")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg observerproto.ErrorMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeError || msg.Code != network.CodeNetworkNotLoaded {
		t.Fatalf("unexpected error message: %+v", msg)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestBadHandshakeIsClosed(t *testing.T) {
	ts := newTestServer(t, &fakeSource{snaps: map[string]*network.Snapshot{}}, Config{Worlds: []string{"overworld"}})
	conn := dial(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestMaxClients(t *testing.T) {
	ts := newTestServer(t, &fakeSource{snaps: map[string]*network.Snapshot{}}, Config{Worlds: []string{"overworld"}, MaxClients: 1})
	first := dial(t, ts)
	subscribe(t, first, "overworld")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
				t.Fatalf("unexpected dial failure: %v", err)
			}
			return
		}
		_ = conn.Close()
		if time.Now().After(deadline) {
			t.Fatalf("second observer was accepted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:4000": true,
		"[::1]:4000":     true,
		"10.0.0.5:4000":  false,
		"not-an-ip":      false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
