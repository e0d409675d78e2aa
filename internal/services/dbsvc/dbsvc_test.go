package dbsvc

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"

	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/dbexec"
	"github.com/dbbouncer/gateway/internal/dbpool"
	"github.com/dbbouncer/gateway/internal/reactor"
	"github.com/dbbouncer/gateway/internal/session"
)

type fakeConn struct{ closed atomic.Bool }

func (c *fakeConn) IsValid(ctx context.Context) bool { return !c.closed.Load() }
func (c *fakeConn) Close() error                     { c.closed.Store(true); return nil }
func (c *fakeConn) Execute(ctx context.Context, sql string, out *dbpool.Result) (bool, error) {
	out.Kind = "result_set"
	out.Columns = []string{"col"}
	out.Rows = [][]string{{"1"}}
	return true, nil
}

func newTestSession(t *testing.T) (*session.Session, net.Conn, *reactor.Pool) {
	t.Helper()
	pool := reactor.NewPool(1)
	idx := session.NewRegistry()
	serverConn, clientConn := net.Pipe()
	s := session.New(serverConn, pool.Next(), idx, clients.New(), func(*session.Session, codec.Header, []byte) {}, codec.MaxBodySize)
	s.Start()
	t.Cleanup(func() { clientConn.Close(); pool.Stop() })
	return s, clientConn, pool
}

func readEnvelope(t *testing.T, conn net.Conn) map[string]any {
	t.Helper()
	header := make([]byte, codec.HeaderSize)
	readAll(t, conn, header)
	h, err := codec.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		readAll(t, conn, body)
	}
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v\n%s", err, body)
	}
	return env
}

func readAll(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func TestExecuteSuccessReturnsResultSet(t *testing.T) {
	executor := dbexec.New()
	key := dbpool.Key{Type: "mysql", Ident: "localhost:3306/test"}
	pool := dbpool.New(2, func(ctx context.Context) (dbpool.Conn, error) { return &fakeConn{}, nil })
	pool.Initialize(context.Background())
	executor.TestOnlySetPool(key, pool)

	svc := New(executor)
	s, conn, _ := newTestSession(t)

	svc.onExecute(s, codec.Header{ServiceID: ServiceID, CmdID: CmdExecute, Seq: 1},
		[]byte(`{"target":{"type":"mysql","connInfo":{"host":"localhost","port":3306,"database":"test"}},"action":{"sql":"SELECT 1"}}`))

	env := readEnvelope(t, conn)
	status := env["status"].(map[string]any)
	if status["code"] != float64(0) {
		t.Fatalf("status.code = %v, want 0", status["code"])
	}
	data := env["data"].(map[string]any)
	result := data["result"].(map[string]any)
	if result["type"] != "result_set" || result["rowCount"] != float64(1) {
		t.Errorf("result = %v", result)
	}
}

func TestExecutePoolNotFound(t *testing.T) {
	executor := dbexec.New()
	svc := New(executor)
	s, conn, _ := newTestSession(t)

	svc.onExecute(s, codec.Header{ServiceID: ServiceID, CmdID: CmdExecute, Seq: 1},
		[]byte(`{"target":{"type":"mysql","connInfo":{"host":"nowhere","port":3306,"database":"x"}},"action":{"sql":"SELECT 1"}}`))

	env := readEnvelope(t, conn)
	status := env["status"].(map[string]any)
	if status["code"] != float64(errPoolNotFound) {
		t.Fatalf("status.code = %v, want %d", status["code"], errPoolNotFound)
	}
}

func TestMalformedRequest(t *testing.T) {
	executor := dbexec.New()
	svc := New(executor)
	s, conn, _ := newTestSession(t)

	svc.onExecute(s, codec.Header{ServiceID: ServiceID, CmdID: CmdExecute, Seq: 1}, []byte(`not json`))

	env := readEnvelope(t, conn)
	status := env["status"].(map[string]any)
	if status["code"] != float64(errMalformedRequest) {
		t.Fatalf("status.code = %v, want %d", status["code"], errMalformedRequest)
	}
}
