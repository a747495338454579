package saga

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"classifieds/internal/common/types"
)

// MemoryLog is an in-process IntentLog for tests and single-node development.
// Concurrency: all access is guarded by a mutex.
type MemoryLog struct {
	mu      sync.Mutex
	now     func() time.Time
	intents map[types.SagaID]*Intent
}

// NewMemoryLog creates an empty log. A nil clock defaults to time.Now.
func NewMemoryLog(now func() time.Time) *MemoryLog {
	if now == nil {
		now = time.Now
	}
	return &MemoryLog{now: now, intents: make(map[types.SagaID]*Intent)}
}

func (l *MemoryLog) Begin(ctx context.Context, intent Intent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.intents[intent.ID]; ok {
		return fmt.Errorf("saga intent %s already exists", intent.ID)
	}
	now := l.now()
	intent.CreatedAt, intent.UpdatedAt = now, now
	intent.Steps = slices.Clone(intent.Steps)
	l.intents[intent.ID] = &intent
	return nil
}

func (l *MemoryLog) AppendStep(ctx context.Context, id types.SagaID, step Step) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	step.UpdatedAt = l.now()
	in.Steps = append(in.Steps, step)
	in.UpdatedAt = step.UpdatedAt
	return nil
}

func (l *MemoryLog) UpdateStep(ctx context.Context, id types.SagaID, seq int, status StepStatus, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	for i := range in.Steps {
		if in.Steps[i].Seq == seq {
			in.Steps[i].Status = status
			in.Steps[i].Detail = detail
			in.Steps[i].UpdatedAt = l.now()
			in.UpdatedAt = in.Steps[i].UpdatedAt
			return nil
		}
	}
	return fmt.Errorf("saga intent %s has no step %d", id, seq)
}

func (l *MemoryLog) SetStatus(ctx context.Context, id types.SagaID, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	in.Status = status
	in.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLog) Get(ctx context.Context, id types.SagaID) (Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	return copyIntent(in), nil
}

func (l *MemoryLog) FindStale(ctx context.Context, before time.Time, limit int) ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Intent
	for _, in := range l.intents {
		if (in.Status == StatusRunning || in.Status == StatusCompensating) && in.UpdatedAt.Before(before) {
			out = append(out, copyIntent(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ByName returns every intent recorded under a saga name, oldest first.
func (l *MemoryLog) ByName(name string) []Intent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Intent
	for _, in := range l.intents {
		if in.Name == name {
			out = append(out, copyIntent(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyIntent(in *Intent) Intent {
	c := *in
	c.Steps = slices.Clone(in.Steps)
	return c
}

var _ IntentLog = (*MemoryLog)(nil)
