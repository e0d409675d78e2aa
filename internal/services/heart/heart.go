// Package heart implements the heartbeat acknowledgement command, the Go
// rendering of the original server's HeartService. Unlike the original,
// which reports the error "client does not exists" when no ClientInfo is
// attached, this version ties elapsed time to the session itself
// (Session.MarkHeartbeat) since heartbeat eviction is keyed on
// lastActivity, not on client registration: a heartbeat sent before
// ever registering a name is still a valid heartbeat.
package heart

import (
	"encoding/json"
	"log/slog"

	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/protocol"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/session"
)

// ServiceID and command IDs for the heartbeat service.
const (
	ServiceID = 4

	CmdRecv = 1
	CmdAck  = 2
)

// Service answers heartbeat frames with an ack carrying elapsed time.
type Service struct{}

// New returns the heart service.
func New() *Service { return &Service{} }

// ServiceID implements registry.Service.
func (s *Service) ServiceID() uint16 { return ServiceID }

// RegisterCmd implements registry.Service.
func (s *Service) RegisterCmd(reg func(cmdID uint16, fn registry.HandlerFunc)) {
	reg(CmdRecv, s.onRecv)
}

func (s *Service) onRecv(sess *session.Session, h codec.Header, body []byte) {
	elapsed := sess.MarkHeartbeat()
	data := map[string]any{
		"result": map[string]any{
			"time": int64(elapsed.Seconds()),
		},
	}
	env := protocol.Ok(h.ServiceID, CmdAck, h.Seq, data)

	out, err := json.Marshal(env)
	if err != nil {
		slog.Error("heart: marshaling response envelope", "err", err)
		return
	}
	sess.Send(codec.Header{
		Magic:     codec.Magic,
		Version:   1,
		ServiceID: h.ServiceID,
		CmdID:     CmdAck,
		Seq:       h.Seq,
	}, out)
}
