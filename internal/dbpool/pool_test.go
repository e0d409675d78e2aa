package dbpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) IsValid(ctx context.Context) bool { return !c.closed.Load() }
func (c *fakeConn) Close() error                     { c.closed.Store(true); return nil }
func (c *fakeConn) Execute(ctx context.Context, sql string, out *Result) (bool, error) {
	out.Success = true
	out.Kind = "ok"
	return true, nil
}

func fakeDialer() Dialer {
	var n atomic.Int32
	return func(ctx context.Context) (Conn, error) {
		return &fakeConn{id: int(n.Add(1))}, nil
	}
}

func TestInitializeSeedsHalfOfMax(t *testing.T) {
	p := New(4, fakeDialer())
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	stats := p.Stats()
	if stats.Created != 2 {
		t.Errorf("created = %d, want 2 (ceil(4/2))", stats.Created)
	}
	if stats.Idle != 2 {
		t.Errorf("idle = %d, want 2", stats.Idle)
	}
}

func TestAcquireReusesIdleBeforeCreating(t *testing.T) {
	p := New(2, fakeDialer())
	p.Initialize(context.Background())

	c, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Stats().Created != 1 {
		t.Errorf("Acquire from idle should not increase created")
	}
	p.Release(c)
}

func TestAcquireCreatesUnderMax(t *testing.T) {
	p := New(1, fakeDialer())
	// no Initialize: created starts at 0

	c, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Stats().Created != 1 {
		t.Errorf("created = %d, want 1", p.Stats().Created)
	}
	p.Release(c)
}

func TestPoolBoundInvariant(t *testing.T) {
	p := New(2, fakeDialer())
	c1, _ := p.Acquire(context.Background(), time.Second)
	c2, _ := p.Acquire(context.Background(), time.Second)

	stats := p.Stats()
	if stats.Created > stats.Max {
		t.Fatalf("created %d exceeds max %d", stats.Created, stats.Max)
	}
	if stats.Idle > stats.Created {
		t.Fatalf("idle %d exceeds created %d", stats.Idle, stats.Created)
	}
	p.Release(c1)
	p.Release(c2)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	p := New(1, fakeDialer())
	c, _ := p.Acquire(context.Background(), time.Second)

	start := time.Now()
	_, err := p.Acquire(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
	p.Release(c)
}

func TestAcquireLivenessOnRelease(t *testing.T) {
	p := New(1, fakeDialer())
	c, _ := p.Acquire(context.Background(), time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	var got Conn
	var gotErr error
	go func() {
		defer wg.Done()
		got, gotErr = p.Acquire(context.Background(), time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(c)
	wg.Wait()

	if gotErr != nil || got == nil {
		t.Fatalf("waiter should have acquired the released connection, got err=%v", gotErr)
	}
}

func TestCloseAllRejectsFurtherAcquire(t *testing.T) {
	p := New(2, fakeDialer())
	p.Initialize(context.Background())
	p.CloseAll()

	_, err := p.Acquire(context.Background(), time.Second)
	if err == nil {
		t.Fatal("Acquire after CloseAll should fail")
	}
}

func TestCloseAllWakesWaiters(t *testing.T) {
	p := New(1, fakeDialer())
	c, _ := p.Acquire(context.Background(), time.Second)
	_ = c

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.CloseAll()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after CloseAll woke the waiter")
		}
	case <-time.After(time.Second):
		t.Fatal("CloseAll did not wake blocked waiter")
	}
}

func TestDiscardDecrementsCreated(t *testing.T) {
	p := New(1, fakeDialer())
	c, _ := p.Acquire(context.Background(), time.Second)
	p.Discard(c)

	if p.Stats().Created != 0 {
		t.Errorf("created = %d, want 0 after Discard", p.Stats().Created)
	}

	c2, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire after Discard: %v", err)
	}
	p.Release(c2)
}
