package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
	"classifieds/internal/common/types"
)

var tracer = otel.Tracer("classifieds.saga")

const (
	commitTimeout       = 10 * time.Second
	commitRetries       = 4
	commitRetryInterval = 50 * time.Millisecond
)

// ErrFinished is returned when a step is started on a saga that already
// committed or failed.
var ErrFinished = errors.New("saga already finished")

// Coordinator starts sagas backed by an intent log and a dispatcher.
type Coordinator struct {
	log        IntentLog
	dispatcher *Dispatcher
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(log IntentLog, dispatcher *Dispatcher) *Coordinator {
	return &Coordinator{log: log, dispatcher: dispatcher}
}

// Begin records a new intent and returns the saga together with a context
// carrying its id for logging. No side effect should be issued when Begin fails.
func (c *Coordinator) Begin(ctx context.Context, name string) (context.Context, *Saga, error) {
	id := types.NewSagaID()
	ctx = logging.WithSagaID(ctx, id)

	ctx, span := tracer.Start(ctx, "saga."+name,
		trace.WithAttributes(
			attribute.String("saga.name", name),
			attribute.String("saga.id", id.String()),
		),
	)

	err := c.log.Begin(ctx, Intent{
		ID:            id,
		Name:          name,
		Status:        StatusRunning,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return ctx, nil, fmt.Errorf("starting saga %s: %w", name, err)
	}

	return ctx, &Saga{
		id:         id,
		name:       name,
		log:        c.log,
		dispatcher: c.dispatcher,
		span:       span,
	}, nil
}

// Saga is one in-flight workflow. Compensations registered with OnRollback
// run newest first when the saga fails.
// Concurrency: steps may be recorded from several goroutines.
type Saga struct {
	id         types.SagaID
	name       string
	log        IntentLog
	dispatcher *Dispatcher
	span       trace.Span

	mu            sync.Mutex
	seq           int
	compensations []compensation
	finished      bool
}

type compensation struct {
	seq  int
	name string
	fn   func(ctx context.Context) error
}

// ID returns the saga's intent id.
func (s *Saga) ID() types.SagaID { return s.id }

// Name returns the saga's name.
func (s *Saga) Name() string { return s.name }

// Do runs one forward step. The step is logged before fn runs; if fn fails
// the saga fails, its compensations are dispatched, and fn's error is returned.
func Do[T any](ctx context.Context, s *Saga, step string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	seq, err := s.append(ctx, Step{Kind: KindAction, Name: step, Status: StepPending})
	if err != nil {
		return zero, s.Fail(ctx, err)
	}

	stepCtx, span := tracer.Start(ctx, "saga.step."+step,
		trace.WithAttributes(attribute.Int("saga.seq", seq)),
	)
	v, err := fn(stepCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		s.update(ctx, seq, StepFailed, err.Error())
		metrics.RecordSagaStepFailure(s.name, step)
		logging.WarnContext(ctx, "Saga step failed", "saga", s.name, "step", step, "error", err)
		return zero, s.Fail(ctx, err)
	}
	span.End()

	s.update(ctx, seq, StepDone, "")
	return v, nil
}

// Run is Do for steps that produce no value.
func (s *Saga) Run(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, s, step, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// OnRollback registers a compensation for the steps completed so far.
// The name and payload are logged so the recovery sweep can replay the
// compensation after a crash with a handler registered under the same name.
func (s *Saga) OnRollback(ctx context.Context, name string, payload any, fn func(ctx context.Context) error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.ErrorContext(ctx, "Compensation payload not serializable", "compensation", name, "error", err)
		raw = nil
	}

	seq, err := s.append(ctx, Step{Kind: KindCompensation, Name: name, Payload: raw, Status: StepPending})
	if err != nil {
		logging.ErrorContext(ctx, "Compensation not recorded in intent log", "compensation", name, "error", err)
	}

	s.mu.Lock()
	s.compensations = append(s.compensations, compensation{seq: seq, name: name, fn: fn})
	s.mu.Unlock()
}

// Fail aborts the saga: registered compensations are handed to the dispatcher
// and cause is returned unchanged. Calling Fail on a finished saga only returns cause.
func (s *Saga) Fail(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return cause
	}
	s.finished = true
	pending := s.compensations
	s.compensations = nil
	s.mu.Unlock()

	s.span.RecordError(cause)
	s.span.SetStatus(codes.Error, cause.Error())
	s.span.End()

	if len(pending) == 0 {
		s.setStatus(ctx, StatusAborted)
		return cause
	}

	s.setStatus(ctx, StatusCompensating)
	logging.WarnContext(ctx, "Saga aborted, dispatching compensations",
		"saga", s.name,
		"compensations", len(pending),
		"error", cause,
	)
	s.dispatcher.Go(ctx, func(ctx context.Context) {
		s.compensate(ctx, pending)
	})
	return cause
}

// Commit marks the saga successful and discards its compensations.
func (s *Saga) Commit(ctx context.Context) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrFinished
	}
	s.finished = true
	s.compensations = nil
	s.mu.Unlock()

	s.span.SetStatus(codes.Ok, "")
	s.span.End()

	// The status write outlives the caller's context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = commitRetryInterval
	err := backoff.Retry(func() error {
		return s.log.SetStatus(ctx, s.id, StatusCommitted)
	}, backoff.WithContext(backoff.WithMaxRetries(b, commitRetries), ctx))
	if err != nil {
		return fmt.Errorf("committing saga %s: %w", s.name, err)
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, pending []compensation) {
	failed := false
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		err := c.fn(ctx)
		metrics.RecordCompensation(s.name, c.name, err)
		if err != nil {
			failed = true
			s.update(ctx, c.seq, StepFailed, err.Error())
			logging.ErrorContext(ctx, "Saga compensation failed",
				"kind", "SagaCompensationFailed",
				"saga", s.name,
				"compensation", c.name,
				"error", err,
			)
			continue
		}
		s.update(ctx, c.seq, StepDone, "")
		logging.InfoContext(ctx, "Saga compensation applied", "saga", s.name, "compensation", c.name)
	}

	if failed {
		s.setStatus(ctx, StatusCompensationFailed)
		return
	}
	s.setStatus(ctx, StatusCompensated)
}

func (s *Saga) append(ctx context.Context, step Step) (int, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return 0, ErrFinished
	}
	s.seq++
	step.Seq = s.seq
	s.mu.Unlock()

	if err := s.log.AppendStep(ctx, s.id, step); err != nil {
		return step.Seq, fmt.Errorf("recording saga step %s: %w", step.Name, err)
	}
	return step.Seq, nil
}

func (s *Saga) update(ctx context.Context, seq int, status StepStatus, detail string) {
	if err := s.log.UpdateStep(ctx, s.id, seq, status, detail); err != nil {
		logging.WarnContext(ctx, "Saga step outcome not recorded", "seq", seq, "status", status, "error", err)
	}
}

func (s *Saga) setStatus(ctx context.Context, status Status) {
	if err := s.log.SetStatus(ctx, s.id, status); err != nil {
		logging.WarnContext(ctx, "Saga status not recorded", "status", status, "error", err)
	}
}
