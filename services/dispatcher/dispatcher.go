package dispatcher

import (
	"context"
	"log"
	"math/rand/v2"
	"time"

	"roachplane/services/store"
)

const defaultPollInterval = 5 * time.Second

// Queue is the slice of the persistence gateway the dispatcher drives.
type Queue interface {
	ConsumeOne(ctx context.Context, fn func(ctx context.Context, msg store.Message) error) (bool, error)
}

// Router dispatches one leased message to its operation handler.
type Router interface {
	Route(ctx context.Context, msg store.Message) error
}

// Dispatcher is the single long-running poll loop. Each iteration sleeps a
// randomized interval, leases at most one visible message under a row lock,
// routes it, and deletes it within the leasing transaction. Multiple
// dispatcher instances partition work through the lock without coordination.
type Dispatcher struct {
	queue    Queue
	router   Router
	logger   *log.Logger
	interval time.Duration
}

// New creates a Dispatcher. interval <= 0 selects the 5s default.
func New(queue Queue, router Router, logger *log.Logger, interval time.Duration) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Dispatcher{queue: queue, router: router, logger: logger, interval: interval}
}

// Run polls until ctx is cancelled. The current iteration always finishes;
// cancellation is observed only at the sleep.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Printf("INFO dispatcher polling every %s", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("INFO dispatcher stopping")
			return ctx.Err()
		case <-time.After(d.jitteredInterval()):
		}

		consumed, err := d.queue.ConsumeOne(ctx, d.dispatch)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			dispatchFailures.Inc()
			d.logger.Printf("ERROR dispatcher: consume: %v", err)
			continue
		}
		if consumed {
			queueDepthPolls.WithLabelValues("hit").Inc()
		} else {
			queueDepthPolls.WithLabelValues("miss").Inc()
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg store.Message) error {
	start := time.Now()
	err := d.router.Route(ctx, msg)
	dispatchDuration.WithLabelValues(msg.MsgType).Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Printf("ERROR dispatcher: route %s message %d: %v", msg.MsgType, msg.MsgID, err)
		return err
	}
	messagesDispatched.WithLabelValues(msg.MsgType).Inc()
	return nil
}

// jitteredInterval spreads polls across 0.7x to 1.3x of the base interval so
// concurrent dispatchers drift apart instead of thundering together.
func (d *Dispatcher) jitteredInterval() time.Duration {
	spread := time.Duration(float64(d.interval) * 0.3)
	return d.interval - spread + rand.N(2*spread)
}
