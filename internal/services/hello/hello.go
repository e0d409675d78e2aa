// Package hello implements the TEST echo command, the simplest service
// in the registry: a sanity check that the framing and dispatch path
// work end-to-end.
package hello

import (
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/session"
)

// ServiceID and command IDs for the hello smoke-test service.
const (
	ServiceID = 1
	CmdTest   = 1
)

// Service echoes the request body back verbatim.
type Service struct{}

// New returns the hello service.
func New() *Service { return &Service{} }

// ServiceID implements registry.Service.
func (s *Service) ServiceID() uint16 { return ServiceID }

// RegisterCmd implements registry.Service.
func (s *Service) RegisterCmd(reg func(cmdID uint16, fn registry.HandlerFunc)) {
	reg(CmdTest, s.onTest)
}

func (s *Service) onTest(sess *session.Session, h codec.Header, body []byte) {
	sess.Send(codec.Header{
		Magic:     codec.Magic,
		Version:   1,
		ServiceID: h.ServiceID,
		CmdID:     h.CmdID,
		Seq:       h.Seq,
	}, body)
}
