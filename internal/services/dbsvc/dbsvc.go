// Package dbsvc implements the DB execute/close commands, the Go
// rendering of the original server's DBService wiring: parse a target
// connection descriptor and an action SQL string out of the request
// body, build a dbpool.Key from it, and delegate to the shared executor.
package dbsvc

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/dbexec"
	"github.com/dbbouncer/gateway/internal/dbpool"
	"github.com/dbbouncer/gateway/internal/protocol"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/session"
)

// ServiceID and command IDs for the database execution service.
const (
	ServiceID = 2

	CmdExecute = 1
	CmdClose   = 2
)

// Business-level error codes layered over dbexec's plain-string results,
// since the wire envelope needs a status.code the way the comm service's
// duplicate-name error does.
const (
	errPoolNotFound     = 10000
	errAcquireTimeout   = 10001
	errExecuteFailed    = 10002
	errMalformedRequest = 29999
)

// Service dispatches DB_EXECUTE and DB_CLOSE against a shared executor.
type Service struct {
	executor *dbexec.Executor
}

// New constructs a dbsvc service backed by executor.
func New(executor *dbexec.Executor) *Service {
	return &Service{executor: executor}
}

// ServiceID implements registry.Service.
func (s *Service) ServiceID() uint16 { return ServiceID }

// RegisterCmd implements registry.Service.
func (s *Service) RegisterCmd(reg func(cmdID uint16, fn registry.HandlerFunc)) {
	reg(CmdExecute, s.onExecute)
	reg(CmdClose, s.onClose)
}

type dbRequest struct {
	Target struct {
		Type     string `json:"type"`
		ConnInfo struct {
			Host     string `json:"host"`
			Port     int    `json:"port"`
			Database string `json:"database"`
			Path     string `json:"path"`
		} `json:"connInfo"`
	} `json:"target"`
	Action struct {
		SQL     string `json:"sql"`
		Timeout uint32 `json:"timeout"`
	} `json:"action"`
}

func (r dbRequest) key() dbpool.Key {
	ci := r.Target.ConnInfo
	if r.Target.Type == "sqlite" {
		return dbpool.Key{Type: "sqlite", Ident: ci.Path}
	}
	return dbpool.Key{Type: r.Target.Type, Ident: identOf(ci.Host, ci.Port, ci.Database)}
}

func identOf(host string, port int, database string) string {
	return host + ":" + strconv.Itoa(port) + "/" + database
}

func (s *Service) onExecute(sess *session.Session, h codec.Header, body []byte) {
	var req dbRequest
	if err := json.Unmarshal(body, &req); err != nil {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errMalformedRequest, "invalid request json"))
		return
	}

	result := s.executor.ExecuteRequest(context.Background(), dbexec.Request{
		Key:       req.key(),
		SQL:       req.Action.SQL,
		Cmd:       "execute",
		TimeoutMs: req.Action.Timeout,
	})
	respondResult(sess, h, result)
}

func (s *Service) onClose(sess *session.Session, h codec.Header, body []byte) {
	var req dbRequest
	if err := json.Unmarshal(body, &req); err != nil {
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, errMalformedRequest, "invalid request json"))
		return
	}

	result := s.executor.ExecuteRequest(context.Background(), dbexec.Request{Key: req.key(), Cmd: "close"})
	respondResult(sess, h, result)
}

func respondResult(sess *session.Session, h codec.Header, result dbpool.Result) {
	if !result.Success {
		code := errExecuteFailed
		switch result.ErrorMsg {
		case "Connection pool not found":
			code = errPoolNotFound
		case "Acquire connection timeout":
			code = errAcquireTimeout
		}
		reply(sess, protocol.Error(h.ServiceID, h.CmdID, h.Seq, code, result.ErrorMsg))
		return
	}
	data := map[string]any{"result": dbexec.MakeResultJSON(result)}
	reply(sess, protocol.Ok(h.ServiceID, h.CmdID, h.Seq, data))
}

func reply(sess *session.Session, env protocol.Envelope) {
	out, err := json.Marshal(env)
	if err != nil {
		slog.Error("dbsvc: marshaling response envelope", "err", err)
		return
	}
	sess.Send(codec.Header{
		Magic:     codec.Magic,
		Version:   1,
		ServiceID: env.Header.ServiceID,
		CmdID:     env.Header.CmdID,
		Seq:       env.Header.Seq,
	}, out)
}
