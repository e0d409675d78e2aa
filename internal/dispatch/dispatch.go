// Package dispatch implements the stateless frame dispatcher: given a
// decoded frame and the session that received it, look up the service
// and command, then spawn the handler as a cooperative task on the
// session's reactor.
package dispatch

import (
	"log/slog"
	"strconv"

	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/metrics"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/session"
)

// New returns a session.Dispatcher backed by reg, suitable for passing to
// session.New.
func New(reg *registry.Registry) session.Dispatcher {
	return NewWithMetrics(reg, nil)
}

// NewWithMetrics is New, additionally recording gateway_dispatch_total for
// every frame handed to a handler. m may be nil.
func NewWithMetrics(reg *registry.Registry, m *metrics.Collector) session.Dispatcher {
	return func(s *session.Session, h codec.Header, body []byte) {
		desc, ok := reg.Lookup(h.ServiceID)
		if !ok {
			slog.Warn("dispatch: unknown service", "serviceId", h.ServiceID, "session", s.ID())
			return
		}
		handler, ok := desc.Handler(h.CmdID)
		if !ok {
			slog.Warn("dispatch: unknown cmd", "serviceId", h.ServiceID, "cmdId", h.CmdID, "session", s.ID())
			return
		}

		if m != nil {
			m.Dispatched(strconv.Itoa(int(h.ServiceID)), strconv.Itoa(int(h.CmdID)))
		}
		s.Reactor().Post(func() {
			handler(s, h, body)
		})
	}
}
