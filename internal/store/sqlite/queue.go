package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type queueStore struct {
	db *sql.DB
}

func encodePayload(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (map[string]any, error) {
	var p map[string]any
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func toMillis(t time.Time) int64    { return t.UTC().UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (q *queueStore) Insert(ctx context.Context, m core.Mutation) error {
	payload, err := encodePayload(m.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, category, payload, enqueued_at, retry_count, simulated)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Category), payload, toMillis(m.EnqueuedAt), m.RetryCount, boolToInt(m.Simulated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

func scanMutation(row interface{ Scan(...any) error }) (*core.Mutation, error) {
	var (
		m          core.Mutation
		category   string
		payload    string
		enqueuedAt int64
		simulated  int
	)
	if err := row.Scan(&m.ID, &category, &payload, &enqueuedAt, &m.RetryCount, &simulated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	m.Category = core.Category(category)
	m.Payload = p
	m.EnqueuedAt = fromMillis(enqueuedAt)
	m.Simulated = simulated != 0
	return &m, nil
}

func (q *queueStore) Get(ctx context.Context, id string) (*core.Mutation, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, category, payload, enqueued_at, retry_count, simulated
		 FROM sync_queue WHERE id = ?`, id)
	return scanMutation(row)
}

// Pending lee el snapshot completo en orden FIFO. El desempate por rowid
// cubre mutaciones encoladas dentro del mismo milisegundo.
func (q *queueStore) Pending(ctx context.Context) ([]core.Mutation, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, category, payload, enqueued_at, retry_count, simulated
		 FROM sync_queue ORDER BY enqueued_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []core.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q *queueStore) Delete(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mutation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (q *queueStore) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}

func (q *queueStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, core.ErrNotFound
	}
	var count int
	if err := q.db.QueryRowContext(ctx,
		`SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (q *queueStore) MoveToDeadLetter(ctx context.Context, id string, reason core.DeadLetterReason, errMsg string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move to dead-letter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO dead_letter (id, category, payload, enqueued_at, retry_count, simulated, error, reason, failed_at)
		 SELECT id, category, payload, enqueued_at, retry_count, simulated, ?, ?, ?
		 FROM sync_queue WHERE id = ?`,
		errMsg, string(reason), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("move to dead-letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("move to dead-letter: delete source: %w", err)
	}
	return tx.Commit()
}

func (q *queueStore) MoveToCorrupted(ctx context.Context, id, reason string, obsolete, missing []string) error {
	obs, err := json.Marshal(emptyIfNil(obsolete))
	if err != nil {
		return err
	}
	mis, err := json.Marshal(emptyIfNil(missing))
	if err != nil {
		return err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move to corrupted: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO corrupted (id, category, payload, enqueued_at, retry_count, simulated, reason, obsolete, missing, corrupted_at)
		 SELECT id, category, payload, enqueued_at, retry_count, simulated, ?, ?, ?, ?
		 FROM sync_queue WHERE id = ?`,
		reason, string(obs), string(mis), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("move to corrupted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("move to corrupted: delete source: %w", err)
	}
	return tx.Commit()
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite expone el código en el mensaje; alcanza con el texto
	// para distinguir el PRIMARY KEY duplicado sin importar el build.
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint violation")
}
