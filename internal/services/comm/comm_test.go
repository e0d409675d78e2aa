package comm

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/reactor"
	"github.com/dbbouncer/gateway/internal/session"
)

func newTestSession(t *testing.T, idx *session.Registry, pool *reactor.Pool) (*session.Session, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := session.New(serverConn, pool.Next(), idx, clients.New(), func(*session.Session, codec.Header, []byte) {}, codec.MaxBodySize)
	s.Start()
	t.Cleanup(func() { clientConn.Close() })
	return s, clientConn
}

func readEnvelope(t *testing.T, conn net.Conn) map[string]any {
	t.Helper()
	header := make([]byte, codec.HeaderSize)
	if _, err := readFullT(conn, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	h, err := codec.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := readFullT(conn, body); err != nil {
			t.Fatalf("reading body: %v", err)
		}
	}
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshaling envelope: %v\nbody=%s", err, body)
	}
	return env
}

func readFullT(conn net.Conn, buf []byte) (int, error) {
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

func statusCode(t *testing.T, env map[string]any) float64 {
	t.Helper()
	status, ok := env["status"].(map[string]any)
	if !ok {
		t.Fatalf("envelope missing status: %v", env)
	}
	code, _ := status["code"].(float64)
	return code
}

func TestRegisterSucceeds(t *testing.T) {
	clientReg := clients.New()
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	s, conn := newTestSession(t, idx, pool)
	svc.onRegister(s, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 1}, []byte(`{"target":{"name":"alice"}}`))

	env := readEnvelope(t, conn)
	if code := statusCode(t, env); code != 0 {
		t.Fatalf("status.code = %v, want 0", code)
	}
	if sid, ok := clientReg.Get("alice"); !ok || sid != s.ID() {
		t.Fatal("alice should be registered to this session")
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	clientReg := clients.New()
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	a, connA := newTestSession(t, idx, pool)
	b, connB := newTestSession(t, idx, pool)

	svc.onRegister(a, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 1}, []byte(`{"target":{"name":"alice"}}`))
	readEnvelope(t, connA)

	svc.onRegister(b, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 2}, []byte(`{"target":{"name":"alice"}}`))
	env := readEnvelope(t, connB)

	if code := statusCode(t, env); code != 20001 {
		t.Fatalf("status.code = %v, want 20001", code)
	}
	status := env["status"].(map[string]any)
	if status["message"] != "client name already exists" {
		t.Errorf("message = %v", status["message"])
	}
}

func TestSendDeliversToPeer(t *testing.T) {
	clientReg := clients.New()
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	a, connA := newTestSession(t, idx, pool)
	b, connB := newTestSession(t, idx, pool)

	svc.onRegister(a, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 1}, []byte(`{"target":{"name":"alice"}}`))
	readEnvelope(t, connA)
	svc.onRegister(b, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 1}, []byte(`{"target":{"name":"bob"}}`))
	readEnvelope(t, connB)

	svc.onSend(a, codec.Header{ServiceID: ServiceID, CmdID: CmdSend, Seq: 77}, []byte(`{"target":{"name":"alice","client":"bob","message":"hi"}}`))

	header := make([]byte, codec.HeaderSize)
	if _, err := readFullT(connB, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	h, _ := codec.DecodeHeader(header)
	body := make([]byte, h.Length)
	readFullT(connB, body)
	if string(body) != "hi" {
		t.Errorf("body = %q, want hi", body)
	}
	if h.ServiceID != ServiceID || h.CmdID != CmdSend || h.Seq != 77 {
		t.Errorf("header = %+v", h)
	}

	ackEnv := readEnvelope(t, connA)
	if code := statusCode(t, ackEnv); code != 0 {
		t.Fatalf("sender ack status.code = %v, want 0", code)
	}
}

func TestSendUnknownTarget(t *testing.T) {
	clientReg := clients.New()
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	a, connA := newTestSession(t, idx, pool)
	svc.onSend(a, codec.Header{ServiceID: ServiceID, CmdID: CmdSend, Seq: 1}, []byte(`{"target":{"name":"alice","client":"ghost","message":"hi"}}`))

	env := readEnvelope(t, connA)
	if code := statusCode(t, env); code != 20002 {
		t.Fatalf("status.code = %v, want 20002", code)
	}
}

func TestShowListsRegisteredClients(t *testing.T) {
	clientReg := clients.New()
	clientReg.Add("alice", "s1")
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	a, connA := newTestSession(t, idx, pool)
	svc.onShow(a, codec.Header{ServiceID: ServiceID, CmdID: CmdShow, Seq: 1}, nil)

	env := readEnvelope(t, connA)
	data := env["data"].(map[string]any)
	result := data["result"].(map[string]any)
	clientsList := result["clients"].([]any)
	if len(clientsList) != 1 || clientsList[0] != "alice" {
		t.Errorf("clients = %v", clientsList)
	}
}

func TestMalformedRequestJSON(t *testing.T) {
	clientReg := clients.New()
	svc := New(clientReg)
	idx := session.NewRegistry()
	pool := reactor.NewPool(1)
	defer pool.Stop()

	a, connA := newTestSession(t, idx, pool)
	svc.onRegister(a, codec.Header{ServiceID: ServiceID, CmdID: CmdRegister, Seq: 1}, []byte(`not json`))

	env := readEnvelope(t, connA)
	if code := statusCode(t, env); code != 29999 {
		t.Fatalf("status.code = %v, want 29999", code)
	}
}
