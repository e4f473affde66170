package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type corruptedStore struct {
	db *sql.DB
}

func (c *corruptedStore) List(ctx context.Context) ([]core.CorruptedEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, category, payload, enqueued_at, retry_count, simulated, reason, obsolete, missing, corrupted_at
		 FROM corrupted ORDER BY corrupted_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list corrupted: %w", err)
	}
	defer rows.Close()

	var out []core.CorruptedEntry
	for rows.Next() {
		var (
			e          core.CorruptedEntry
			category   string
			payload    string
			enqueuedAt int64
			simulated  int
			obsolete   string
			missing    string
			corrupted  int64
		)
		if err := rows.Scan(&e.ID, &category, &payload, &enqueuedAt, &e.RetryCount, &simulated,
			&e.Reason, &obsolete, &missing, &corrupted); err != nil {
			return nil, err
		}
		p, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(obsolete), &e.ObsoleteFields); err != nil {
			return nil, fmt.Errorf("decode obsolete fields: %w", err)
		}
		if err := json.Unmarshal([]byte(missing), &e.MissingRequiredFields); err != nil {
			return nil, fmt.Errorf("decode missing fields: %w", err)
		}
		e.Category = core.Category(category)
		e.Payload = p
		e.EnqueuedAt = fromMillis(enqueuedAt)
		e.Simulated = simulated != 0
		e.CorruptedAt = fromMillis(corrupted)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *corruptedStore) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM corrupted WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete corrupted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
