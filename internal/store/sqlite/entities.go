package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type entityStore struct {
	db *sql.DB
}

func (s *entityStore) Put(ctx context.Context, e core.CacheEntry, indexes map[string]string) error {
	data, err := encodePayload(e.Data)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entity put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_cache (kind, id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		e.Kind, e.ID, data, toMillis(e.UpdatedAt)); err != nil {
		return fmt.Errorf("put entity: %w", err)
	}

	// Re-armar índices de cero: un valor indexado pudo cambiar con el update.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_index WHERE kind = ? AND entity_id = ?`, e.Kind, e.ID); err != nil {
		return fmt.Errorf("reset entity indexes: %w", err)
	}
	for name, value := range indexes {
		if value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_index (kind, name, value, entity_id) VALUES (?, ?, ?, ?)`,
			e.Kind, name, value, e.ID); err != nil {
			return fmt.Errorf("put entity index %q: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *entityStore) Get(ctx context.Context, kind, id string) (*core.CacheEntry, error) {
	var (
		e         core.CacheEntry
		data      string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, id, data, updated_at FROM entity_cache WHERE kind = ? AND id = ?`,
		kind, id).Scan(&e.Kind, &e.ID, &data, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	e.Data = p
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

func (s *entityStore) ByIndex(ctx context.Context, kind, name, value string) ([]core.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.kind, c.id, c.data, c.updated_at
		 FROM entity_index i JOIN entity_cache c ON c.kind = i.kind AND c.id = i.entity_id
		 WHERE i.kind = ? AND i.name = ? AND i.value = ?`,
		kind, name, value)
	if err != nil {
		return nil, fmt.Errorf("entity by index: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *entityStore) All(ctx context.Context, kind string) ([]core.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id, data, updated_at FROM entity_cache WHERE kind = ?`, kind)
	if err != nil {
		return nil, fmt.Errorf("all entities: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]core.CacheEntry, error) {
	var out []core.CacheEntry
	for rows.Next() {
		var (
			e         core.CacheEntry
			data      string
			updatedAt int64
		)
		if err := rows.Scan(&e.Kind, &e.ID, &data, &updatedAt); err != nil {
			return nil, err
		}
		p, err := decodePayload(data)
		if err != nil {
			return nil, err
		}
		e.Data = p
		e.UpdatedAt = fromMillis(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *entityStore) Count(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_cache WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

func (s *entityStore) Delete(ctx context.Context, kind, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entity delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM entity_cache WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_index WHERE kind = ? AND entity_id = ?`, kind, id); err != nil {
		return fmt.Errorf("delete entity indexes: %w", err)
	}
	return tx.Commit()
}

func (s *entityStore) ReplaceAll(ctx context.Context, kind string, entries []core.CacheEntry, indexes func(core.CacheEntry) map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace all: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_cache WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("replace all: clear cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_index WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("replace all: clear indexes: %w", err)
	}
	for _, e := range entries {
		data, err := encodePayload(e.Data)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_cache (kind, id, data, updated_at) VALUES (?, ?, ?, ?)`,
			kind, e.ID, data, toMillis(e.UpdatedAt)); err != nil {
			return fmt.Errorf("replace all: insert %q: %w", e.ID, err)
		}
		if indexes == nil {
			continue
		}
		for name, value := range indexes(e) {
			if value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO entity_index (kind, name, value, entity_id) VALUES (?, ?, ?, ?)`,
				kind, name, value, e.ID); err != nil {
				return fmt.Errorf("replace all: index %q: %w", name, err)
			}
		}
	}
	return tx.Commit()
}
