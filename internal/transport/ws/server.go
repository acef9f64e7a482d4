// Package ws streams grid state to observers over websockets. A client
// sends HELLO, receives a WELCOME with the full state, then one message per
// state transition published on the grid's event bus.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tis3d.dev/internal/protocol"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
)

type Stats struct {
	Clients      int
	SentTotal    uint64
	DroppedTotal uint64
}

type Server struct {
	grid *grid.Grid
	log  *slog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]chan []byte
	unsub   func()

	sentTotal    atomic.Uint64
	droppedTotal atomic.Uint64
}

func NewServer(g *grid.Grid, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		grid:    g,
		log:     log,
		clients: map[string]chan []byte{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.unsub = g.Bus().Subscribe(s.broadcast)
	return s
}

// Close detaches from the bus and ends every session's writer.
func (s *Server) Close() {
	s.unsub()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, out := range s.clients {
		close(out)
		delete(s.clients, id)
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	return Stats{Clients: n, SentTotal: s.sentTotal.Load(), DroppedTotal: s.droppedTotal.Load()}
}

// broadcast runs on the simulation goroutine and never blocks: a session
// whose queue is full misses the message.
func (s *Server) broadcast(e events.Event) {
	msg, ok := protocol.FromEvent(e)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("ws marshal", "type", e.Type, "err", err)
		return
	}
	for _, out := range s.clients {
		select {
		case out <- b:
			s.sentTotal.Add(1)
		default:
			s.droppedTotal.Add(1)
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.readHello(conn)
		if !ok {
			return
		}
		maxQ := hello.MaxQueue
		if maxQ <= 0 {
			maxQ = 256
		}
		if maxQ > 4096 {
			maxQ = 4096
		}
		sid := fmt.Sprintf("S%d", s.nextID.Add(1))
		out := make(chan []byte, maxQ)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		welcome, err := s.join(ctx, sid, out)
		cancel()
		if err != nil {
			s.log.Warn("ws join failed", "session", sid, "err", err)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "grid busy"), time.Now().Add(time.Second))
			return
		}
		defer s.leave(sid)
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		s.log.Info("observer joined", "session", sid, "client", hello.ClientName, "tick", welcome.Tick)

		writeErr := make(chan error, 1)
		go func() {
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			writeErr <- nil
		}()

		// Reader loop: nothing is accepted after HELLO, but reading keeps
		// control frames flowing and notices the close.
		go func() {
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					s.leave(sid)
					return
				}
			}
		}()

		<-writeErr
		s.log.Info("observer left", "session", sid)
	}
}

func (s *Server) readHello(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "expected HELLO"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return hello, false
	}
	return hello, true
}

// join builds the WELCOME and registers the session in one step on the
// simulation goroutine, so the client sees every transition after the
// snapshot and none before it.
func (s *Server) join(ctx context.Context, sid string, out chan []byte) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	err := s.grid.Do(ctx, func(g *grid.Grid) error {
		w = Welcome(g, sid)
		s.mu.Lock()
		s.clients[sid] = out
		s.mu.Unlock()
		return nil
	})
	return w, err
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.clients[sid]; ok {
		close(out)
		delete(s.clients, sid)
	}
}

// Welcome describes every casing and controller of g. It must run on the
// goroutine that steps g.
func Welcome(g *grid.Grid, sid string) protocol.WelcomeMsg {
	cfg := g.Config()
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		Tick:            g.CurrentTick(),
		GridParams: protocol.GridParams{
			TickRateHz: cfg.TickRateHz,
			Seed:       cfg.Seed,
			MaxCasings: cfg.MaxCasings,
			RegionSize: cfg.RegionSize,
		},
		Casings:     []protocol.CasingView{},
		Controllers: []protocol.ControllerView{},
	}
	for _, p := range g.Casings() {
		c, _ := g.CasingAt(p)
		v := protocol.CasingView{Pos: p.ToArray(), Enabled: c.Enabled(), Locked: c.Locked()}
		for f := machine.Face(0); f < machine.FaceCount; f++ {
			if m := c.Module(f); m != nil {
				if v.Modules == nil {
					v.Modules = map[string]string{}
				}
				v.Modules[f.String()] = string(m.Kind())
			}
		}
		w.Casings = append(w.Casings, v)
	}
	for _, p := range g.Controllers() {
		ctrl, _ := g.ControllerOf(p)
		w.Controllers = append(w.Controllers, protocol.ControllerView{
			Pos:      p.ToArray(),
			State:    ctrl.State().String(),
			Validity: ctrl.Validity().String(),
			Casings:  len(ctrl.Members()),
		})
	}
	return w
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
