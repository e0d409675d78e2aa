// Package comm implements the cross-client messaging service: register,
// close, send, and show, the Go rendering of the original server's
// CommunicationService.
package comm

import (
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/protocol"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/session"
)

// Service ID and command IDs for the cross-client messaging service.
const (
	ServiceID = 3

	CmdRegister = 1
	CmdClose    = 2
	CmdSend     = 3
	CmdShow     = 4
)

// Error codes match CommunicationService.cpp exactly.
const (
	errClientNameExists    = 20001
	errClientNameNotExists = 20002
	errSendTargetGone      = 20003
	errMalformedRequest    = 29999
)

// Service implements the cross-client messaging commands.
type Service struct {
	clients *clients.Registry
}

// New constructs a comm service backed by the given client registry.
func New(clientReg *clients.Registry) *Service {
	return &Service{clients: clientReg}
}

// ServiceID implements registry.Service.
func (s *Service) ServiceID() uint16 { return ServiceID }

// RegisterCmd implements registry.Service.
func (s *Service) RegisterCmd(reg func(cmdID uint16, fn registry.HandlerFunc)) {
	reg(CmdRegister, s.onRegister)
	reg(CmdClose, s.onClose)
	reg(CmdSend, s.onSend)
	reg(CmdShow, s.onShow)
}

type targetName struct {
	Target struct {
		Name string `json:"name"`
	} `json:"target"`
}

type sendRequest struct {
	Target struct {
		Name    string `json:"name"`
		Client  string `json:"client"`
		Message string `json:"message"`
	} `json:"target"`
}

func (s *Service) onRegister(sess *session.Session, h codec.Header, body []byte) {
	var req targetName
	if err := json.Unmarshal(body, &req); err != nil || req.Target.Name == "" {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errMalformedRequest, "invalid request json"))
		return
	}
	name := req.Target.Name

	info := &clients.Info{Name: name, ConnectTime: time.Now()}
	if addr, ok := sess.RemoteAddr().(*net.TCPAddr); ok {
		info.IP = addr.IP.String()
		info.Port = addr.Port
	}

	if !s.clients.Add(name, sess.ID()) {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errClientNameExists, "client name already exists"))
		return
	}
	sess.SetClientInfo(info)
	reply(sess, protocol.Ok(h.ServiceID, h.CmdID, h.Seq, nil))
}

func (s *Service) onClose(sess *session.Session, h codec.Header, body []byte) {
	var req targetName
	if err := json.Unmarshal(body, &req); err != nil || req.Target.Name == "" {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errMalformedRequest, "invalid request json"))
		return
	}

	if sid, ok := s.clients.Get(req.Target.Name); !ok || sid != sess.ID() || !s.clients.Remove(req.Target.Name) {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errClientNameNotExists, "client name not exists"))
		return
	}
	sess.SetClientInfo(nil)
	reply(sess, protocol.Ok(h.ServiceID, h.CmdID, h.Seq, nil))
}

func (s *Service) onSend(sess *session.Session, h codec.Header, body []byte) {
	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Target.Client == "" {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errMalformedRequest, "invalid request json"))
		return
	}

	peerID, ok := s.clients.Get(req.Target.Client)
	if !ok {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errClientNameNotExists, "client name not exists"))
		return
	}

	if sess.SendToOther(peerID, h, []byte(req.Target.Message)) {
		reply(sess, protocol.Ok(h.ServiceID, h.CmdID, h.Seq, nil))
		return
	}
	reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errSendTargetGone, "client name or session not exists"))
}

func (s *Service) onShow(sess *session.Session, h codec.Header, body []byte) {
	names := s.clients.Names()
	data := map[string]any{
		"result": map[string]any{
			"clients": names,
			"count":   len(names),
		},
	}
	reply(sess, protocol.Ok(h.ServiceID, h.CmdID, h.Seq, data))
}

func reply(sess *session.Session, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("comm: marshaling response envelope", "err", err)
		return
	}
	sess.Send(codec.Header{
		Magic:     codec.Magic,
		Version:   1,
		ServiceID: env.Header.ServiceID,
		CmdID:     env.Header.CmdID,
		Seq:       env.Header.Seq,
	}, data)
}
