package saga

import (
	"context"
	"sync"
	"time"

	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
)

// Dispatcher runs compensation batches on background goroutines.
// Batches are detached from the request that triggered them: they keep the
// request's values (correlation id, saga id) but not its deadline or cancellation.
type Dispatcher struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher that bounds every batch by timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

// Go starts fn in the background and returns immediately.
func (d *Dispatcher) Go(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	metrics.SagaInFlightCompensations.Inc()
	go func() {
		defer d.wg.Done()
		defer metrics.SagaInFlightCompensations.Dec()
		defer func() {
			if p := recover(); p != nil {
				logging.ErrorContext(detached, "Compensation batch panicked", "panic", p)
			}
		}()

		runCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		fn(runCtx)
	}()
}

// Wait blocks until every dispatched batch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight batches or until ctx is done, whichever comes first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
