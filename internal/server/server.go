// Package server implements the acceptor: the listening socket, the
// per-connection session construction, and graceful shutdown, the Go
// rendering of the original server's CServer + AsioIOServicePool wiring.
package server

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/metrics"
	"github.com/dbbouncer/gateway/internal/reactor"
	"github.com/dbbouncer/gateway/internal/session"
)

// Server owns the listening socket and the global session index.
type Server struct {
	port     uint16
	reactors *reactor.Pool
	sessions *session.Registry
	clients  *clients.Registry
	dispatch session.Dispatcher
	metrics  *metrics.Collector

	listener  net.Listener
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// New constructs a Server bound to port, not yet listening.
func New(port uint16, reactors *reactor.Pool, sessions *session.Registry, clientReg *clients.Registry, dispatch session.Dispatcher) *Server {
	return NewWithMetrics(port, reactors, sessions, clientReg, dispatch, nil)
}

// NewWithMetrics is New, additionally recording per-session metrics via m.
// m may be nil.
func NewWithMetrics(port uint16, reactors *reactor.Pool, sessions *session.Registry, clientReg *clients.Registry, dispatch session.Dispatcher, m *metrics.Collector) *Server {
	return &Server{
		port:     port,
		reactors: reactors,
		sessions: sessions,
		clients:  clientReg,
		dispatch: dispatch,
		metrics:  m,
		closing:  make(chan struct{}),
	}
}

// ListenAndServe binds the listening socket and runs the accept loop
// until Stop is called. Blocks the calling goroutine; callers typically
// invoke this in its own goroutine.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(int(s.port)))
	if err != nil {
		return err
	}
	s.listener = ln
	slog.Info("server listening", "port", s.port)

	s.wg.Add(1)
	defer s.wg.Done()
	s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			slog.Warn("accept error", "err", err)
			if isDescriptorExhaustion(err) {
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		r := s.reactors.Next()
		sess := session.NewWithMetrics(conn, r, s.sessions, s.clients, s.dispatch, codec.MaxBodySize, s.metrics)
		sess.Start()
		slog.Info("accepted connection", "session", sess.ID(), "remote", conn.RemoteAddr())
	}
}

func isDescriptorExhaustion(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

// Stop closes the listening socket and waits for the accept loop to
// exit. It does not close individual sessions; callers that want a full
// drain should also Range over the session registry and Close each one.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
