// Package ingest accepts uploaded readings, persists them, and hands them to
// the fan-out path. One dispatcher goroutine keeps persistence and delivery in
// arrival order.
package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/pkg/interfaces"
	"sensorhub/pkg/types"
)

// Deliverer is the fan-out half of the registry.
type Deliverer interface {
	Deliver(sensorID, rtypeID int64, reading types.Reading)
}

// Dispatcher serializes the ingest pipeline: verify happens on the submitting
// goroutine, persistence and fan-out on the dispatcher goroutine.
type Dispatcher struct {
	store     interfaces.Store
	deliverer Deliverer

	ch       chan types.Reading
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates a dispatcher with the given submission buffer.
func New(store interfaces.Store, deliverer Deliverer, buffer int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		ch:        make(chan types.Reading, buffer),
		shutdown:  make(chan struct{}),
		log:       log,
		metrics:   m,
	}
}

// Start launches the dispatcher goroutine. Idempotent.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Stop drains in-flight submissions and waits for the goroutine to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.shutdown)
	d.wg.Wait()
}

// Submit verifies and queues one reading. Submission never blocks: a full
// buffer reports ErrChannelFull so the uploader can retry.
func (d *Dispatcher) Submit(r types.Reading) error {
	if err := types.VerifyReading(r); err != nil {
		return err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.mu.Unlock()

	select {
	case d.ch <- r:
		return nil
	default:
		return ErrChannelFull
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case r := <-d.ch:
			d.process(r)
		case <-d.shutdown:
			// Drain what was accepted before the stop.
			for {
				select {
				case r := <-d.ch:
					d.process(r)
				default:
					return
				}
			}
		}
	}
}

// process persists one reading and fans it out. A failed insert skips the
// fan-out: viewers only see readings that made it to storage.
func (d *Dispatcher) process(r types.Reading) {
	if err := d.store.InsertReading(context.Background(), r); err != nil {
		d.log.Error("failed to persist reading",
			zap.Int64("sensorid", r.SensorID),
			zap.Int64("rtypeid", r.RTypeID),
			zap.Error(err))
		return
	}
	d.metrics.ReadingsIngested.Inc()

	r.Display = types.FormatReading(r)
	d.deliverer.Deliver(r.SensorID, r.RTypeID, r)
}
