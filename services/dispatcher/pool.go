package dispatcher

import (
	"context"
	"log"
	"sync"
)

// Pool runs operation bodies on a bounded set of workers. Handlers hand the
// long-running part of each operation to the pool so the poll loop never
// blocks on a playbook run.
//
// Workers receive the pool's base context, not the dispatch context: the
// leased message is deleted when the handler returns, so the worker must
// outlive the dispatch transaction and end only on drain.
type Pool struct {
	base   context.Context
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewPool creates a pool of size workers bound to base.
func NewPool(base context.Context, size int, logger *log.Logger) *Pool {
	if size <= 0 {
		size = 8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		base:   base,
		slots:  make(chan struct{}, size),
		logger: logger,
	}
}

// Go runs fn on a worker, blocking until a slot frees up. Blocking here
// backpressures the dispatcher instead of piling up unbounded goroutines.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.slots <- struct{}{}
	p.wg.Add(1)
	workersBusy.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Printf("ERROR worker panic: %v", r)
			}
			workersBusy.Dec()
			p.wg.Done()
			<-p.slots
		}()
		fn(p.base)
	}()
}

// Drain blocks until all in-flight workers finish. Call after the dispatcher
// loop has stopped; new Go calls during a drain are not rejected, so stop
// producing work first.
func (p *Pool) Drain() {
	p.wg.Wait()
}
