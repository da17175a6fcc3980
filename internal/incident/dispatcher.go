package incident

import (
	"context"
	"sync"
	"sync/atomic"

	"labcore/internal/logging"
	"labcore/pkg/domain"
)

// DefaultQueueSize bounds the number of incidents waiting for delivery.
const DefaultQueueSize = 64

// Dispatcher hands incidents to a downstream sink on a worker goroutine.
// When the queue is full the incident is dropped and logged.
type Dispatcher struct {
	next   domain.IncidentSink
	logger logging.Logger
	queue  chan domain.Incident

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewDispatcher starts a worker delivering to next.
func NewDispatcher(next domain.IncidentSink, queueSize int, l logging.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		next:   next,
		logger: logging.OrNoop(l),
		queue:  make(chan domain.Incident, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for in := range d.queue {
		// Delivery outlives the request that raised the incident.
		d.next.Report(context.Background(), in)
	}
}

// Report enqueues the incident without blocking.
func (d *Dispatcher) Report(_ context.Context, in domain.Incident) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("incident dropped after shutdown", "incident_id", in.ID, "execution_id", in.ExecutionID)
		return
	}
	select {
	case d.queue <- in:
	default:
		d.dropped.Add(1)
		d.logger.Error("incident queue full, dropping", "incident_id", in.ID, "execution_id", in.ExecutionID)
	}
}

// Dropped returns how many incidents were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting incidents and waits until queued ones are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
