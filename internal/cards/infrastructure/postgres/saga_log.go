package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

// SagaLog implements saga.IntentLog on the saga_intents and saga_steps tables.
// Writes go straight to the pool so they survive a rollback of the
// business transaction that runs next to them.
type SagaLog struct {
	db Executor
}

// NewSagaLog creates a new SagaLog.
func NewSagaLog(db Executor) *SagaLog {
	return &SagaLog{db: db}
}

func (l *SagaLog) Begin(ctx context.Context, intent saga.Intent) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO saga_intents (id, name, status, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		intent.ID.String(),
		intent.Name,
		string(intent.Status),
		intent.CorrelationID.String(),
	)
	return err
}

func (l *SagaLog) AppendStep(ctx context.Context, id types.SagaID, step saga.Step) error {
	tag, err := l.db.Exec(ctx, `
		WITH step AS (
			INSERT INTO saga_steps (saga_id, seq, kind, name, payload, status, detail, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING saga_id
		)
		UPDATE saga_intents SET updated_at = NOW()
		WHERE id = (SELECT saga_id FROM step)`,
		id.String(),
		step.Seq,
		string(step.Kind),
		step.Name,
		[]byte(step.Payload),
		string(step.Status),
		step.Detail,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrIntentNotFound
	}
	return nil
}

func (l *SagaLog) UpdateStep(ctx context.Context, id types.SagaID, seq int, status saga.StepStatus, detail string) error {
	tag, err := l.db.Exec(ctx, `
		WITH step AS (
			UPDATE saga_steps
			SET status = $3, detail = $4, updated_at = NOW()
			WHERE saga_id = $1 AND seq = $2
			RETURNING saga_id
		)
		UPDATE saga_intents SET updated_at = NOW()
		WHERE id = (SELECT saga_id FROM step)`,
		id.String(), seq, string(status), detail,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saga intent %s has no step %d", id, seq)
	}
	return nil
}

func (l *SagaLog) SetStatus(ctx context.Context, id types.SagaID, status saga.Status) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE saga_intents SET status = $2, updated_at = NOW() WHERE id = $1`,
		id.String(), string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrIntentNotFound
	}
	return nil
}

func (l *SagaLog) Get(ctx context.Context, id types.SagaID) (saga.Intent, error) {
	in, err := scanIntent(l.db.QueryRow(ctx, `
		SELECT id::text, name, status, correlation_id, created_at, updated_at
		FROM saga_intents WHERE id = $1`,
		id.String(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Intent{}, saga.ErrIntentNotFound
	}
	if err != nil {
		return saga.Intent{}, err
	}

	steps, err := l.steps(ctx, []string{id.String()})
	if err != nil {
		return saga.Intent{}, err
	}
	in.Steps = steps[id]
	return in, nil
}

func (l *SagaLog) FindStale(ctx context.Context, before time.Time, limit int) ([]saga.Intent, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id::text, name, status, correlation_id, created_at, updated_at
		FROM saga_intents
		WHERE status IN ('running', 'compensating') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, err
	}

	var intents []saga.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		intents = append(intents, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(intents) == 0 {
		return nil, nil
	}

	ids := make([]string, len(intents))
	for i, in := range intents {
		ids[i] = in.ID.String()
	}
	steps, err := l.steps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range intents {
		intents[i].Steps = steps[intents[i].ID]
	}
	return intents, nil
}

func (l *SagaLog) steps(ctx context.Context, ids []string) (map[types.SagaID][]saga.Step, error) {
	rows, err := l.db.Query(ctx, `
		SELECT saga_id::text, seq, kind, name, payload, status, detail, updated_at
		FROM saga_steps
		WHERE saga_id = ANY($1::uuid[])
		ORDER BY saga_id, seq`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.SagaID][]saga.Step)
	for rows.Next() {
		var (
			sagaID  string
			step    saga.Step
			kind    string
			status  string
			payload []byte
		)
		if err := rows.Scan(&sagaID, &step.Seq, &kind, &step.Name, &payload, &status, &step.Detail, &step.UpdatedAt); err != nil {
			return nil, err
		}
		step.Kind = saga.StepKind(kind)
		step.Status = saga.StepStatus(status)
		step.Payload = payload
		out[types.SagaID(sagaID)] = append(out[types.SagaID(sagaID)], step)
	}
	return out, rows.Err()
}

func scanIntent(row pgx.Row) (saga.Intent, error) {
	var (
		in            saga.Intent
		id            string
		status        string
		correlationID string
	)
	if err := row.Scan(&id, &in.Name, &status, &correlationID, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return saga.Intent{}, err
	}
	sagaID, err := types.ParseSagaID(id)
	if err != nil {
		return saga.Intent{}, err
	}
	in.ID = sagaID
	in.Status = saga.Status(status)
	in.CorrelationID = types.CorrelationID(correlationID)
	return in, nil
}

var _ saga.IntentLog = (*SagaLog)(nil)
