package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type sessionStore struct {
	db *sql.DB
}

// Save upsertea la fila única (id = 1). Solo hay una sesión por terminal.
func (s *sessionStore) Save(ctx context.Context, rec core.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, access_token, refresh_token, obtained_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   obtained_at = excluded.obtained_at`,
		rec.AccessToken, rec.RefreshToken, toMillis(rec.ObtainedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *sessionStore) Load(ctx context.Context) (*core.SessionRecord, error) {
	var (
		rec        core.SessionRecord
		obtainedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, obtained_at FROM session WHERE id = 1`).
		Scan(&rec.AccessToken, &rec.RefreshToken, &obtainedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	rec.ObtainedAt = fromMillis(obtainedAt)
	return &rec, nil
}

func (s *sessionStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	return err
}
