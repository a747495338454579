package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"classifieds/internal/common/types"
)

// ErrIntentNotFound is returned when the log holds no intent with the given id.
var ErrIntentNotFound = errors.New("saga intent not found")

// Status is the lifecycle state of a saga intent.
type Status string

const (
	StatusRunning            Status = "running"
	StatusCommitted          Status = "committed"
	StatusAborted            Status = "aborted"
	StatusCompensating       Status = "compensating"
	StatusCompensated        Status = "compensated"
	StatusCompensationFailed Status = "compensation_failed"
	StatusNeedsOperator      Status = "needs_operator"
)

// StepKind separates forward actions from registered compensations.
type StepKind string

const (
	KindAction       StepKind = "action"
	KindCompensation StepKind = "compensation"
)

// StepStatus is the state of one recorded step.
// A compensation stays pending from registration until it is executed.
type StepStatus string

const (
	StepPending       StepStatus = "pending"
	StepDone          StepStatus = "done"
	StepFailed        StepStatus = "failed"
	StepNeedsOperator StepStatus = "needs_operator"
)

// Step is one append-only entry of an intent.
type Step struct {
	Seq       int             `json:"seq"`
	Kind      StepKind        `json:"kind"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    StepStatus      `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Intent is the durable record of one saga run.
type Intent struct {
	ID            types.SagaID
	Name          string
	Status        Status
	CorrelationID types.CorrelationID
	Steps         []Step
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingCompensations returns the registered but not yet executed
// compensations, newest first.
func (i Intent) PendingCompensations() []Step {
	var out []Step
	for j := len(i.Steps) - 1; j >= 0; j-- {
		s := i.Steps[j]
		if s.Kind == KindCompensation && s.Status == StepPending {
			out = append(out, s)
		}
	}
	return out
}

// InterruptedActions returns forward steps whose outcome was never recorded.
func (i Intent) InterruptedActions() []Step {
	var out []Step
	for _, s := range i.Steps {
		if s.Kind == KindAction && s.Status == StepPending {
			out = append(out, s)
		}
	}
	return out
}

// Completed reports whether the forward step named step finished.
func (i Intent) Completed(step string) bool {
	for _, s := range i.Steps {
		if s.Kind == KindAction && s.Name == step && s.Status == StepDone {
			return true
		}
	}
	return false
}

// IntentLog persists saga intents before their side effects happen.
// Implementations stamp UpdatedAt themselves on every write.
type IntentLog interface {
	// Begin stores a new intent.
	Begin(ctx context.Context, intent Intent) error
	// AppendStep adds a step to an intent. step.Seq must be unique within the intent.
	AppendStep(ctx context.Context, id types.SagaID, step Step) error
	// UpdateStep records the outcome of a step.
	UpdateStep(ctx context.Context, id types.SagaID, seq int, status StepStatus, detail string) error
	// SetStatus moves the intent to a new lifecycle state.
	SetStatus(ctx context.Context, id types.SagaID, status Status) error
	// Get loads one intent with its steps.
	// Returns ErrIntentNotFound when no record exists.
	Get(ctx context.Context, id types.SagaID) (Intent, error)
	// FindStale returns running or compensating intents not touched since before, oldest first.
	FindStale(ctx context.Context, before time.Time, limit int) ([]Intent, error)
}
