package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"conduitnet.ai/internal/observerproto"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

// SnapshotSource is satisfied by *network.Registry. Only the goroutine-safe
// Snapshot accessor is used; the server never touches live network state.
type SnapshotSource interface {
	Snapshot(world string) (*network.Snapshot, bool)
}

type Config struct {
	Worlds     []string
	TickRateHz int
	MaxClients int
}

type Server struct {
	src SnapshotSource
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	clients  atomic.Int64
}

func NewServer(src SnapshotSource, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	return &Server{
		src: src,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
	}
}

// Handler serves GET /observer/bootstrap and the /observer/ws stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Worlds:          s.cfg.Worlds,
			TickRateHz:      s.cfg.TickRateHz,
			RegionSize:      grid.RegionSize,
		})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if n := s.clients.Add(1); s.cfg.MaxClients > 0 && n > int64(s.cfg.MaxClients) {
			s.clients.Add(-1)
			http.Error(rw, "too many observers", http.StatusServiceUnavailable)
			return
		}
		defer s.clients.Add(-1)

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		world, reason := s.parseSubscribe(msg)
		if reason != "" {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
			return
		}
		if !s.knownWorld(world) {
			s.writeError(conn, network.CodeNetworkNotLoaded, fmt.Sprintf("unknown world %q", world))
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown world"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.log.Printf("observer %s subscribed to %s from %s", sid, world, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Latest-wins: only the most recent world switch matters.
		switchTo := make(chan string, 1)
		writeErr := make(chan error, 1)
		go func() { writeErr <- s.stream(ctx, conn, world, switchTo) }()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, reason := s.parseSubscribe(msg)
			if reason != "" || !s.knownWorld(next) {
				continue
			}
			select {
			case <-switchTo:
			default:
			}
			switchTo <- next
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer %s left", sid)
	}
}

// stream polls the published snapshot at the tick rate and sends it whenever
// its sequence number changes.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, world string, switchTo <-chan string) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRateHz))
	defer ticker.Stop()

	var lastSeq uint64
	send := func() error {
		snap, ok := s.src.Snapshot(world)
		if !ok || snap.Seq == lastSeq {
			return nil
		}
		b, err := json.Marshal(observerproto.FromSnapshot(snap))
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
		lastSeq = snap.Seq
		return nil
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w := <-switchTo:
			world, lastSeq = w, 0
		case <-ticker.C:
		}
		if err := send(); err != nil {
			return err
		}
	}
}

func (s *Server) parseSubscribe(msg []byte) (world, reason string) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return "", "bad subscribe"
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return "", "expected SUBSCRIBE"
	}
	if sub.WorldID == "" {
		if len(s.cfg.Worlds) == 0 {
			return "", "world_id required"
		}
		return s.cfg.Worlds[0], ""
	}
	return sub.WorldID, ""
}

func (s *Server) knownWorld(w string) bool {
	return len(s.cfg.Worlds) == 0 || slices.Contains(s.cfg.Worlds, w)
}

func (s *Server) writeError(conn *websocket.Conn, code, message string) {
	b, _ := json.Marshal(observerproto.NewError(code, message))
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
