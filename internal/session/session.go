// Package session implements one live TCP connection: the read loop,
// the bounded outbound send queue, the heartbeat watchdog, and the
// idempotent close sequence.
package session

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/metrics"
	"github.com/dbbouncer/gateway/internal/reactor"
)

const (
	sendQueueMax     = 1000
	heartbeatTick    = 5 * time.Second
	heartbeatTimeout = 60 * time.Second
)

// Dispatcher routes one decoded frame to its handler. Supplied by the
// caller (internal/dispatch) so this package never needs to know about
// the service registry.
type Dispatcher func(s *Session, h codec.Header, body []byte)

// Session is server-side state for one TCP connection.
type Session struct {
	id       string
	conn     net.Conn
	reactor  *reactor.Reactor
	index    *Registry
	clients  *clients.Registry
	dispatch Dispatcher
	maxBody  int

	stopped atomic.Bool

	sendMu    sync.Mutex
	sendQueue [][]byte
	writing   bool
	notify    chan struct{}

	client        atomic.Pointer[clients.Info]
	lastActivity  atomic.Int64
	heartbeatMark atomic.Int64

	metrics *metrics.Collector
}

// New constructs a Session bound to conn and reactor r, not yet started.
func New(conn net.Conn, r *reactor.Reactor, index *Registry, clientReg *clients.Registry, dispatch Dispatcher, maxBody int) *Session {
	return newSession(conn, r, index, clientReg, dispatch, maxBody, nil)
}

// NewWithMetrics is New, additionally recording gateway_sessions_active/
// total and gateway_heartbeat_evictions_total against m. m may be nil.
func NewWithMetrics(conn net.Conn, r *reactor.Reactor, index *Registry, clientReg *clients.Registry, dispatch Dispatcher, maxBody int, m *metrics.Collector) *Session {
	return newSession(conn, r, index, clientReg, dispatch, maxBody, m)
}

func newSession(conn net.Conn, r *reactor.Reactor, index *Registry, clientReg *clients.Registry, dispatch Dispatcher, maxBody int, m *metrics.Collector) *Session {
	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		reactor:  r,
		index:    index,
		clients:  clientReg,
		dispatch: dispatch,
		maxBody:  maxBody,
		notify:   make(chan struct{}, 1),
		metrics:  m,
	}
	now := time.Now().UnixNano()
	s.lastActivity.Store(now)
	s.heartbeatMark.Store(now)
	return s
}

// ID returns the session's stable UUID.
func (s *Session) ID() string { return s.id }

// Reactor returns the reactor this session is pinned to.
func (s *Session) Reactor() *reactor.Reactor { return s.reactor }

// LastActivity returns the time of the most recent successfully read
// frame (or connect time, if none yet).
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// RemoteAddr returns the connection's remote network address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// MarkHeartbeat records the current time as this session's last
// heartbeat and returns the time elapsed since the previous one (since
// connect, if this is the first). Used by the heart service to report
// time since the previous heartbeat without depending on the transport's
// general lastActivity tracking, which every frame, not just heartbeats,
// advances.
func (s *Session) MarkHeartbeat() time.Duration {
	now := time.Now()
	prev := s.heartbeatMark.Swap(now.UnixNano())
	return now.Sub(time.Unix(0, prev))
}

// ClientInfo returns the registered client info, if any.
func (s *Session) ClientInfo() *clients.Info { return s.client.Load() }

// SetClientInfo attaches info to the session, making it addressable by
// name via the client registry. Callers are responsible for registering
// the name in the client registry themselves (the comm service owns that
// sequencing so it can report duplicate-name errors).
func (s *Session) SetClientInfo(info *clients.Info) { s.client.Store(info) }

// Start arms the read loop and the heartbeat watchdog.
func (s *Session) Start() {
	s.index.store(s)
	if s.metrics != nil {
		s.metrics.SessionAccepted()
	}
	go s.readLoop()
	go s.heartbeatLoop()
}

// Send encodes header+body into a frame and enqueues it for delivery.
// Safe to call from any goroutine.
func (s *Session) Send(h codec.Header, body []byte) {
	if s.stopped.Load() {
		return
	}
	frame := codec.Encode(h, body)
	s.enqueue(frame)
}

// SendToOther looks up a peer session by UUID in the global index and
// delegates to its Send. Returns false if no such session exists.
func (s *Session) SendToOther(peerID string, h codec.Header, body []byte) bool {
	peer, ok := s.index.Get(peerID)
	if !ok {
		return false
	}
	peer.Send(h, body)
	return true
}

// Close atomically transitions the session to stopped exactly once:
// closes the socket, removes it from the global index, and, if
// registered, removes its name from the client registry.
func (s *Session) Close() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.index.delete(s.id)
	if info := s.client.Load(); info != nil && s.clients != nil {
		s.clients.Remove(info.Name)
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
	s.conn.Close()
}

func (s *Session) enqueue(frame []byte) {
	s.sendMu.Lock()
	if len(s.sendQueue) >= sendQueueMax {
		s.sendMu.Unlock()
		slog.Warn("session send queue full, dropping frame", "session", s.id)
		return
	}
	wasEmpty := len(s.sendQueue) == 0
	s.sendQueue = append(s.sendQueue, frame)
	s.sendMu.Unlock()

	if wasEmpty {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Session) popAll() [][]byte {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if len(s.sendQueue) == 0 {
		return nil
	}
	batch := s.sendQueue
	s.sendQueue = nil
	return batch
}

// writerLoop drains the send queue and writes frames in enqueue order.
// Runs on its own goroutine (not the shared reactor) so a slow socket
// write never stalls other sessions pinned to the same reactor.
func (s *Session) writerLoop() {
	for {
		if s.stopped.Load() {
			return
		}
		batch := s.popAll()
		if batch == nil {
			_, ok := <-s.notify
			if !ok {
				return
			}
			continue
		}
		for _, frame := range batch {
			if s.stopped.Load() {
				return
			}
			if _, err := s.conn.Write(frame); err != nil {
				slog.Warn("session write error", "session", s.id, "err", err)
				s.Close()
				return
			}
		}
	}
}

// readLoop reads frames until EOF or error, updating lastActivity and
// handing each decoded frame to the dispatcher without waiting for it to
// finish: concurrent per message, so a slow handler cannot stall
// ingress.
func (s *Session) readLoop() {
	go s.writerLoop()
	defer s.Close()

	header := make([]byte, codec.HeaderSize)
	for {
		if _, err := readFull(s.conn, header); err != nil {
			if !isOrderlyClose(err) {
				slog.Debug("session read error", "session", s.id, "err", err)
			}
			return
		}

		h, err := codec.DecodeHeader(header)
		if err != nil {
			slog.Warn("session protocol violation", "session", s.id, "err", err)
			return
		}
		if err := codec.Validate(h); err != nil {
			slog.Warn("session protocol violation", "session", s.id, "err", err)
			return
		}

		var body []byte
		if h.Length > 0 {
			body = make([]byte, h.Length)
			if _, err := readFull(s.conn, body); err != nil {
				slog.Debug("session body read error", "session", s.id, "err", err)
				return
			}
		}

		s.lastActivity.Store(time.Now().UnixNano())
		s.dispatch(s, h, body)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isOrderlyClose(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// heartbeatLoop closes the session if no frame has been read in over
// heartbeatTimeout, rechecking every heartbeatTick.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatTick)
	defer ticker.Stop()
	for range ticker.C {
		if s.stopped.Load() {
			return
		}
		if time.Since(s.LastActivity()) > heartbeatTimeout {
			slog.Info("session heartbeat timeout", "session", s.id)
			if s.metrics != nil {
				s.metrics.HeartbeatEviction()
			}
			s.Close()
			return
		}
	}
}
