// Package sqlite implementa core.DataAccess sobre una base SQLite local
// (modernc.org/sqlite, driver puro Go: sin cgo en la terminal).
//
// Layout:
//   - sync_queue    mutaciones pendientes (FIFO por enqueued_at)
//   - dead_letter   mutaciones terminales (reintentos agotados / rechazo)
//   - corrupted     mutaciones que fallaron re-validación al drenar
//   - entity_cache  cache persistido de entidades + entity_index (secundarios)
//   - session       última sesión conocida (evidencia de auth previa)
//
// Los moves entre tablas corren dentro de una transacción: la mutación se
// mueve, nunca se copia.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id          TEXT PRIMARY KEY,
	category    TEXT    NOT NULL,
	payload     TEXT    NOT NULL,
	enqueued_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	simulated   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued_at ON sync_queue(enqueued_at);

CREATE TABLE IF NOT EXISTS dead_letter (
	id          TEXT PRIMARY KEY,
	category    TEXT    NOT NULL,
	payload     TEXT    NOT NULL,
	enqueued_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL,
	simulated   INTEGER NOT NULL,
	error       TEXT    NOT NULL,
	reason      TEXT    NOT NULL,
	failed_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS corrupted (
	id           TEXT PRIMARY KEY,
	category     TEXT    NOT NULL,
	payload      TEXT    NOT NULL,
	enqueued_at  INTEGER NOT NULL,
	retry_count  INTEGER NOT NULL,
	simulated    INTEGER NOT NULL,
	reason       TEXT    NOT NULL,
	obsolete     TEXT    NOT NULL,
	missing      TEXT    NOT NULL,
	corrupted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_cache (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS entity_index (
	kind      TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	PRIMARY KEY (kind, name, value, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_index_lookup ON entity_index(kind, name, value);

CREATE TABLE IF NOT EXISTS session (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT    NOT NULL,
	refresh_token TEXT    NOT NULL,
	obtained_at   INTEGER NOT NULL
);
`

// Store implementa core.DataAccess.
type Store struct {
	db *sql.DB

	queue       *queueStore
	deadLetters *deadLetterStore
	corrupted   *corruptedStore
	entities    *entityStore
	sessions    *sessionStore
}

// Open abre (o crea) la base en path y bootstrapea el schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Un solo writer: el subsistema es single-actor y sqlite agradece
	// no tener conexiones compitiendo por el write lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: bootstrap schema: %w", err)
	}

	s := &Store{db: db}
	s.queue = &queueStore{db: db}
	s.deadLetters = &deadLetterStore{db: db}
	s.corrupted = &corruptedStore{db: db}
	s.entities = &entityStore{db: db}
	s.sessions = &sessionStore{db: db}
	return s, nil
}

func (s *Store) Queue() core.QueueStore            { return s.queue }
func (s *Store) DeadLetters() core.DeadLetterStore { return s.deadLetters }
func (s *Store) Corrupted() core.CorruptedStore    { return s.corrupted }
func (s *Store) Entities() core.EntityStore        { return s.entities }
func (s *Store) Sessions() core.SessionStore       { return s.sessions }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
