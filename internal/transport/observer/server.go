package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"transity.ai/internal/observerproto"
	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/world"
)

type Options struct {
	// MaxObservers caps concurrent sessions; 0 means unlimited.
	MaxObservers int
	// SendQueue is the per-session data queue length.
	SendQueue int
	// SubscribeRate limits SUBSCRIBE updates per session (per second).
	SubscribeRate  float64
	SubscribeBurst int
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	active   atomic.Int64
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 1024
	}
	if opts.SubscribeRate <= 0 {
		opts.SubscribeRate = 20
	}
	if opts.SubscribeBurst <= 0 {
		opts.SubscribeBurst = 10
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Active reports the number of connected observer sessions.
func (s *Server) Active() int { return int(s.active.Load()) }

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

		snap := s.world.Snapshot()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         snap.WorldID,
			Tick:            s.world.CurrentTick(),
			Epoch:           snap.Epoch,
			TickRateHz:      s.world.TickRateHz(),
			WorldParams:     snap.Params,
			Palette:         world.Palette(),
			Overlays:        world.Overlays,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

var errBadSubscribe = errors.New("expected SUBSCRIBE")

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	if err := protocol.Validate(protocol.SchemaSubscribe, msg); err != nil {
		return sub, fmt.Errorf("%w: %v", errBadSubscribe, err)
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("%w: %v", errBadSubscribe, err)
	}
	if sub.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("%w: protocol_version %q", errBadSubscribe, sub.ProtocolVersion)
	}
	normalizeSubscribe(&sub)
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

		if n := s.active.Add(1); s.opts.MaxObservers > 0 && n > int64(s.opts.MaxObservers) {
			s.active.Add(-1)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many observers"), time.Now().Add(time.Second))
			return
		}
		defer s.active.Add(-1)

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := parseSubscribe(msg)
		if err != nil {
			if s.log != nil {
				s.log.Printf("observer handshake from %s: %v", r.RemoteAddr, err)
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 8)
		dataOut := make(chan []byte, s.opts.SendQueue)

		joinReq := world.ObserverJoinRequest{
			SessionID: sid,
			TickOut:   tickOut,
			DataOut:   dataOut,
			Camera:    sub.Camera(),
			Overlay:   sub.Overlay,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		if s.log != nil {
			s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-dataOut:
				case b, ok = <-tickOut:
				}
				if !ok {
					writeErr <- nil
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		lim := rate.NewLimiter(rate.Limit(s.opts.SubscribeRate), s.opts.SubscribeBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := parseSubscribe(msg)
			if err != nil || !lim.Allow() {
				continue
			}
			req := world.ObserverSubscribeRequest{
				SessionID: sid,
				Camera:    sub.Camera(),
				Overlay:   sub.Overlay,
			}
			select {
			case s.world.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
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

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.Zoom <= 0 {
		sub.Zoom = 1
	}
	if sub.Zoom > 16 {
		sub.Zoom = 16
	}
	const maxView = 1 << 20
	// Far outside any world; keeps chunk math well inside int range.
	const maxCenter = 1 << 40
	for i := range sub.Center {
		c := sub.Center[i]
		switch {
		case math.IsNaN(c):
			sub.Center[i] = 0
		case c > maxCenter:
			sub.Center[i] = maxCenter
		case c < -maxCenter:
			sub.Center[i] = -maxCenter
		}
	}
	for i := range sub.ViewSize {
		if sub.ViewSize[i] < 1 {
			sub.ViewSize[i] = 1
		}
		if sub.ViewSize[i] > maxView {
			sub.ViewSize[i] = maxView
		}
	}
	sub.Overlay = strings.TrimSpace(sub.Overlay)
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
