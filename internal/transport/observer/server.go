// Package observer streams world generation events to websocket clients.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/observerproto"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/placement"
	"vibeheim.ai/internal/worldgen/streaming"
	"vibeheim.ai/schemas"
)

const sessionBuffer = 1024

type session struct {
	id  string
	out chan []byte

	mu    sync.Mutex
	kinds map[string]bool
}

func (s *session) wants(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds) == 0 || s.kinds[kind]
}

func (s *session) setKinds(kinds []string) {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	s.mu.Lock()
	s.kinds = m
	s.mu.Unlock()
}

type Server struct {
	settings config.WorldGenSettings
	log      *log.Logger
	now      func() time.Time

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	seq      atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(s config.WorldGenSettings, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		settings: s,
		log:      logger,
		now:      time.Now,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see handlers
		},
	}
}

// Clients is the number of subscribed sessions.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Dropped counts messages not delivered because a session's buffer was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish stamps msg with the next sequence number and fans it out to every
// session subscribed to its kind. Slow sessions lose messages rather than
// stall the caller.
func (s *Server) Publish(msg observerproto.EventMsg) {
	msg.Type = observerproto.TypeEvent
	msg.ProtocolVersion = observerproto.Version
	msg.Seq = s.seq.Add(1)
	if msg.TimeMs == 0 {
		msg.TimeMs = s.now().UnixMilli()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("observer: marshal kind=%s: %v", msg.Kind, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if !sess.wants(msg.Kind) {
			continue
		}
		select {
		case sess.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// OnSchedulerEvent converts and publishes one scheduler event. It is meant
// to be registered with Scheduler.OnEvent.
func (s *Server) OnSchedulerEvent(ev streaming.Event) {
	s.Publish(EventFromStreaming(ev))
}

func EventFromStreaming(ev streaming.Event) observerproto.EventMsg {
	c := [3]int32{ev.Coord.X, ev.Coord.Y, ev.Coord.Z}
	lod := int(ev.LOD)
	msg := observerproto.EventMsg{
		Kind:   string(ev.Kind),
		TimeMs: ev.Time.UnixMilli(),
		Chunk:  &c,
		LOD:    &lod,
		GenMs:  ev.Result.Sample.TotalMs,
	}
	if ev.Err != nil {
		msg.Reason = ev.Err.Error()
	}
	if ev.Discarded {
		msg.Reason = "discarded"
	}
	return msg
}

// PublishPlacements sends one placement event per instance and portal.
func (s *Server) PublishPlacements(instances []placement.Instance, portals []placement.Portal) {
	for _, in := range instances {
		s.Publish(placementEvent(in, false))
	}
	for _, p := range portals {
		s.Publish(placementEvent(p.Instance, true))
	}
}

func placementEvent(in placement.Instance, portal bool) observerproto.EventMsg {
	c := [3]int32{in.Chunk.X, in.Chunk.Y, in.Chunk.Z}
	return observerproto.EventMsg{
		Kind:  observerproto.KindPlacement,
		Chunk: &c,
		Placement: &observerproto.PlacementInfo{
			ID:     in.ID,
			Type:   in.Type,
			Biome:  in.Biome.String(),
			Portal: portal,
			Pos:    [3]float32{in.Location.X(), in.Location.Y(), in.Location.Z()},
		},
	}
}

func (s *Server) PublishStats(st streaming.Stats) {
	s.Publish(observerproto.EventMsg{
		Kind: observerproto.KindStats,
		Stats: &observerproto.StatsInfo{
			Loaded:     st.Loaded,
			Generating: st.Generating,
			Queued:     st.Queued,
			AvgGenMs:   st.AvgGenMs,
			P95GenMs:   st.P95GenMs,
		},
	})
}

// RunStats publishes stats() every interval until ctx ends, skipping ticks
// with no clients.
func (s *Server) RunStats(ctx context.Context, interval time.Duration, stats func() streaming.Stats) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.Clients() > 0 {
				s.PublishStats(stats())
			}
		}
	}
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

		cfg := s.settings
		names := make([]string, 0, int(biome.Count))
		for _, t := range biome.All() {
			names = append(names, t.String())
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			SettingsDigest:  cfg.Digest(),
			WorldParams: observerproto.WorldParams{
				Seed:           cfg.Seed,
				ChunkSize:      cfg.ChunkSize,
				VoxelSizeCm:    cfg.VoxelSizeCm,
				ChunkWorldSize: cfg.ChunkWorldSize(),
				LODRadii:       [3]int{cfg.LOD0Radius, cfg.LOD1Radius, cfg.LOD2Radius},
			},
			Biomes: names,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// parseSubscribe validates raw against the subscribe schema and decodes it.
func parseSubscribe(raw []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return sub, err
	}
	if err := schemas.Validate(schemas.ObserverSubscribe, doc); err != nil {
		return sub, err
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, err
	}
	if sub.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("protocol_version %q want %q", sub.ProtocolVersion, observerproto.Version)
	}
	return sub, nil
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

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
		sub, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, sessionBuffer),
		}
		sess.setKinds(sub.Events)
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		s.log.Printf("observer: joined session=%s events=%v", sess.id, sub.Events)
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
			s.log.Printf("observer: left session=%s", sess.id)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := parseSubscribe(msg)
			if err != nil {
				continue
			}
			sess.setKinds(sub.Events)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
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
