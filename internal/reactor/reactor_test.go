package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostRunsOnReactor(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	done := make(chan struct{})
	p.Next().Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestPostOrderPreservedPerReactor(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	r := p.Next()
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		r.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want sequential", order)
		}
	}
}

func TestNextRoundRobins(t *testing.T) {
	p := NewPool(3)
	defer p.Stop()

	seen := map[*Reactor]bool{}
	for i := 0; i < 3; i++ {
		seen[p.Next()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct reactors over 3 calls, got %d", len(seen))
	}
}

func TestPostRecoversPanic(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	r := p.Next()
	r.Post(func() { panic("boom") })

	var ran atomic.Bool
	done := make(chan struct{})
	r.Post(func() {
		ran.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor loop did not survive a panic")
	}
	if !ran.Load() {
		t.Fatal("task after panic did not run")
	}
}

func TestStopDrainsAndJoins(t *testing.T) {
	p := NewPool(4)
	var n atomic.Int32
	for i := 0; i < 20; i++ {
		p.Next().Post(func() { n.Add(1) })
	}
	p.Stop()
	if n.Load() != 20 {
		t.Fatalf("completed = %d, want 20", n.Load())
	}
}

func TestDefaultSize(t *testing.T) {
	if got := DefaultSize(1); got != 1 {
		t.Errorf("DefaultSize(1) = %d, want 1", got)
	}
	if got := DefaultSize(0); got < 1 {
		t.Errorf("DefaultSize(0) = %d, want >= 1", got)
	}
}
