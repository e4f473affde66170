package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type deadLetterStore struct {
	db *sql.DB
}

const deadLetterCols = `id, category, payload, enqueued_at, retry_count, simulated, error, reason, failed_at`

func scanDeadLetter(row interface{ Scan(...any) error }) (*core.DeadLetterEntry, error) {
	var (
		e          core.DeadLetterEntry
		category   string
		payload    string
		enqueuedAt int64
		simulated  int
		reason     string
		failedAt   int64
	)
	err := row.Scan(&e.ID, &category, &payload, &enqueuedAt, &e.RetryCount, &simulated, &e.Error, &reason, &failedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	e.Category = core.Category(category)
	e.Payload = p
	e.EnqueuedAt = fromMillis(enqueuedAt)
	e.Simulated = simulated != 0
	e.Reason = core.DeadLetterReason(reason)
	e.FailedAt = fromMillis(failedAt)
	return &e, nil
}

func (d *deadLetterStore) List(ctx context.Context) ([]core.DeadLetterEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+deadLetterCols+` FROM dead_letter ORDER BY failed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter: %w", err)
	}
	defer rows.Close()

	var out []core.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (d *deadLetterStore) Get(ctx context.Context, id string) (*core.DeadLetterEntry, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+deadLetterCols+` FROM dead_letter WHERE id = ?`, id)
	return scanDeadLetter(row)
}

// Requeue mueve la entrada de vuelta a la cola con retry_count en 0.
// Mantiene el enqueued_at original para no perder el lugar en el orden FIFO.
func (d *deadLetterStore) Requeue(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin requeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sync_queue (id, category, payload, enqueued_at, retry_count, simulated)
		 SELECT id, category, payload, enqueued_at, 0, simulated
		 FROM dead_letter WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("requeue dead-letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter WHERE id = ?`, id); err != nil {
		return fmt.Errorf("requeue dead-letter: delete source: %w", err)
	}
	return tx.Commit()
}

func (d *deadLetterStore) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM dead_letter WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dead-letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
