package dispatcher

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), 2, log.New(io.Discard, "", 0))

	var running, peak atomic.Int32
	release := make(chan struct{})

	var submitted sync.WaitGroup
	for i := 0; i < 6; i++ {
		submitted.Add(1)
		go func() {
			defer submitted.Done()
			pool.Go(func(context.Context) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
			})
		}()
	}

	// Give workers time to occupy both slots.
	time.Sleep(50 * time.Millisecond)
	close(release)
	submitted.Wait()
	pool.Drain()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
	if got := running.Load(); got != 0 {
		t.Fatalf("workers still running after Drain: %d", got)
	}
}

func TestPoolDrainWaitsForWorkers(t *testing.T) {
	pool := NewPool(context.Background(), 1, log.New(io.Discard, "", 0))

	var done atomic.Bool
	pool.Go(func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	})

	pool.Drain()
	if !done.Load() {
		t.Fatal("Drain returned before worker finished")
	}
}

func TestPoolRecoversPanickingWorker(t *testing.T) {
	pool := NewPool(context.Background(), 1, log.New(io.Discard, "", 0))

	pool.Go(func(context.Context) {
		panic("boom")
	})
	pool.Drain()

	// The slot must be released after a panic or the pool deadlocks.
	ran := make(chan struct{})
	pool.Go(func(context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("slot not released after panic")
	}
	pool.Drain()
}
