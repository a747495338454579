package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
)

// Handler replays one compensation from its logged payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Recoverer finishes sagas interrupted by a crash or restart.
//
// An intent is stale when it is still running or compensating and has not
// been written for staleAfter. Its pending compensations are replayed newest
// first through the handler registered under the compensation's name.
// Compensations with no handler, and forward steps whose outcome was never
// recorded, are flagged for operator remediation.
//
// A saga whose terminal step is recorded as done succeeded and only lost its
// commit write; it is marked committed instead of being compensated.
type Recoverer struct {
	log        IntentLog
	handlers   map[string]Handler
	terminal   map[string]string
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

// NewRecoverer creates a Recoverer over log.
func NewRecoverer(log IntentLog, staleAfter time.Duration) *Recoverer {
	return &Recoverer{
		log:        log,
		handlers:   make(map[string]Handler),
		terminal:   make(map[string]string),
		staleAfter: staleAfter,
		batch:      50,
		now:        time.Now,
	}
}

// Register binds a compensation name to its replay handler.
// Not safe to call concurrently with Sweep.
func (r *Recoverer) Register(name string, h Handler) {
	r.handlers[name] = h
}

// RegisterTerminal names the forward step after which saga can no longer be
// rolled back. Not safe to call concurrently with Sweep.
func (r *Recoverer) RegisterTerminal(saga, step string) {
	r.terminal[saga] = step
}

// Sweep recovers one batch of stale intents and returns how many it processed.
func (r *Recoverer) Sweep(ctx context.Context) (int, error) {
	stale, err := r.log.FindStale(ctx, r.now().Add(-r.staleAfter), r.batch)
	if err != nil {
		return 0, fmt.Errorf("finding stale sagas: %w", err)
	}

	for _, in := range stale {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		status := r.recover(logging.WithSagaID(ctx, in.ID), in)
		metrics.RecordSagaRecovered(string(status))
	}
	return len(stale), nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			logging.ErrorContext(ctx, "Saga recovery sweep failed", "error", err)
		} else if n > 0 {
			logging.InfoContext(ctx, "Saga recovery sweep finished", "recovered", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Recoverer) recover(ctx context.Context, in Intent) Status {
	logging.WarnContext(ctx, "Recovering interrupted saga",
		"saga", in.Name,
		"status", in.Status,
		"correlation_id", in.CorrelationID.String(),
	)

	if step, ok := r.terminal[in.Name]; ok && in.Completed(step) {
		logging.InfoContext(ctx, "Saga finished before interruption, marking committed", "saga", in.Name, "step", step)
		r.setStatus(ctx, in, StatusCommitted)
		return StatusCommitted
	}

	r.setStatus(ctx, in, StatusCompensating)

	operator := false
	for _, step := range in.InterruptedActions() {
		operator = true
		r.updateStep(ctx, in, step.Seq, StepNeedsOperator, "outcome unknown after interruption")
	}

	failed := false
	for _, step := range in.PendingCompensations() {
		h, ok := r.handlers[step.Name]
		if !ok {
			operator = true
			r.updateStep(ctx, in, step.Seq, StepNeedsOperator, "no recovery handler")
			logging.WarnContext(ctx, "Saga compensation needs an operator", "saga", in.Name, "compensation", step.Name)
			continue
		}

		err := h(ctx, step.Payload)
		metrics.RecordCompensation(in.Name, step.Name, err)
		if err != nil {
			failed = true
			r.updateStep(ctx, in, step.Seq, StepFailed, err.Error())
			logging.ErrorContext(ctx, "Saga compensation failed",
				"kind", "SagaCompensationFailed",
				"saga", in.Name,
				"compensation", step.Name,
				"error", err,
			)
			continue
		}
		r.updateStep(ctx, in, step.Seq, StepDone, "")
	}

	final := StatusCompensated
	switch {
	case failed:
		final = StatusCompensationFailed
	case operator:
		final = StatusNeedsOperator
	}
	r.setStatus(ctx, in, final)
	return final
}

func (r *Recoverer) updateStep(ctx context.Context, in Intent, seq int, status StepStatus, detail string) {
	if err := r.log.UpdateStep(ctx, in.ID, seq, status, detail); err != nil {
		logging.WarnContext(ctx, "Saga step outcome not recorded", "seq", seq, "status", status, "error", err)
	}
}

func (r *Recoverer) setStatus(ctx context.Context, in Intent, status Status) {
	if err := r.log.SetStatus(ctx, in.ID, status); err != nil {
		logging.WarnContext(ctx, "Saga status not recorded", "status", status, "error", err)
	}
}
