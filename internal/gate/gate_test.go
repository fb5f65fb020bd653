package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateRunsOperationsOneAtATime(t *testing.T) {
	g := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	var inFlight atomic.Int32
	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() {
				if inFlight.Add(1) != 1 {
					t.Error("two operations overlapped")
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				ran.Add(1)
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()
	if ran.Load() != 100 {
		t.Fatalf("expected 100 ops, ran %d", ran.Load())
	}
}

func TestGateFIFOForSequentialSubmissions(t *testing.T) {
	g := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	var order []int
	for i := 0; i < 20; i++ {
		n := i
		if err := g.Do(context.Background(), func() { order = append(order, n) }); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("out of order at %d: %v", i, order)
		}
	}
}

func TestGateShutdownIntake(t *testing.T) {
	g := New(4)
	g.CloseIntake()
	if !g.IsShuttingDown() {
		t.Fatalf("expected shutting down true")
	}
	if err := g.Do(context.Background(), func() {}); err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestGateDrainUntil(t *testing.T) {
	g := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func() {})
		}()
	}
	wg.Wait()
	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrain()
	if !g.DrainUntil(ctxDrain) {
		t.Fatalf("expected drain true")
	}
	submitted, completed, depth := g.Metrics()
	if submitted != 50 || completed != 50 || depth != 0 {
		t.Fatalf("unexpected metrics: %d %d %d", submitted, completed, depth)
	}
}

func TestGateCancelFailsQueuedOperations(t *testing.T) {
	g := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)

	// Block the worker so further submissions pile up in the queue.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Do(context.Background(), func() {})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queued submitters hung after cancel")
	}
	close(errs)
	for err := range errs {
		if err != nil && err != ErrShuttingDown {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Once the worker has observed the cancellation, new submissions are
	// rejected outright instead of queueing forever.
	deadline := time.Now().Add(2 * time.Second)
	for !g.IsShuttingDown() {
		if time.Now().After(deadline) {
			t.Fatalf("worker never observed cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := g.Do(context.Background(), func() {}); err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown after worker exit, got %v", err)
	}
}

func TestGateAdmissionHonorsContext(t *testing.T) {
	// Worker never started: the queue fills and admission must respect ctx.
	g := New(1)
	go func() {
		_ = g.Do(context.Background(), func() {})
	}()
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Do(ctx, func() {}); err == nil {
		t.Fatalf("expected context error when queue is full")
	}
}
