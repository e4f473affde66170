// Package memory implementa core.DataAccess en memoria. Pensado para tests
// y para correr la terminal en modo efímero (sin persistencia real).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// Store implementa core.DataAccess. Seguro para uso concurrente; el lock es
// uno solo porque el subsistema opera como un único actor lógico.
type Store struct {
	mu sync.Mutex

	seq       int64 // desempate FIFO dentro del mismo milisegundo
	queue     map[string]*queuedMutation
	dead      map[string]core.DeadLetterEntry
	corrupted map[string]core.CorruptedEntry
	entities  map[string]map[string]core.CacheEntry // kind -> id -> entry
	indexes   map[string]map[string]map[string][]string
	session   *core.SessionRecord
}

type queuedMutation struct {
	m   core.Mutation
	seq int64
}

func New() *Store {
	return &Store{
		queue:     map[string]*queuedMutation{},
		dead:      map[string]core.DeadLetterEntry{},
		corrupted: map[string]core.CorruptedEntry{},
		entities:  map[string]map[string]core.CacheEntry{},
		indexes:   map[string]map[string]map[string][]string{},
	}
}

func (s *Store) Queue() core.QueueStore            { return (*queueStore)(s) }
func (s *Store) DeadLetters() core.DeadLetterStore { return (*deadLetterStore)(s) }
func (s *Store) Corrupted() core.CorruptedStore    { return (*corruptedStore)(s) }
func (s *Store) Entities() core.EntityStore        { return (*entityStore)(s) }
func (s *Store) Sessions() core.SessionStore       { return (*sessionStore)(s) }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// ─── QueueStore ───

type queueStore Store

func (q *queueStore) Insert(_ context.Context, m core.Mutation) error {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[m.ID]; ok {
		return core.ErrConflict
	}
	s.seq++
	s.queue[m.ID] = &queuedMutation{m: m, seq: s.seq}
	return nil
}

func (q *queueStore) Get(_ context.Context, id string) (*core.Mutation, error) {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	qm, ok := s.queue[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	m := qm.m
	return &m, nil
}

func (q *queueStore) Pending(_ context.Context) ([]core.Mutation, error) {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*queuedMutation, 0, len(s.queue))
	for _, qm := range s.queue {
		items = append(items, qm)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.m.EnqueuedAt.Equal(b.m.EnqueuedAt) {
			return a.m.EnqueuedAt.Before(b.m.EnqueuedAt)
		}
		return a.seq < b.seq
	})
	out := make([]core.Mutation, len(items))
	for i, qm := range items {
		out[i] = qm.m
	}
	return out, nil
}

func (q *queueStore) Delete(_ context.Context, id string) error {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.queue, id)
	return nil
}

func (q *queueStore) Count(context.Context) (int, error) {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}

func (q *queueStore) IncrementRetry(_ context.Context, id string) (int, error) {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	qm, ok := s.queue[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	qm.m.RetryCount++
	return qm.m.RetryCount, nil
}

func (q *queueStore) MoveToDeadLetter(_ context.Context, id string, reason core.DeadLetterReason, errMsg string) error {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	qm, ok := s.queue[id]
	if !ok {
		return core.ErrNotFound
	}
	s.dead[id] = core.DeadLetterEntry{
		Mutation: qm.m,
		Error:    errMsg,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	delete(s.queue, id)
	return nil
}

func (q *queueStore) MoveToCorrupted(_ context.Context, id, reason string, obsolete, missing []string) error {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()
	qm, ok := s.queue[id]
	if !ok {
		return core.ErrNotFound
	}
	s.corrupted[id] = core.CorruptedEntry{
		Mutation:              qm.m,
		CorruptedAt:           time.Now().UTC(),
		Reason:                reason,
		ObsoleteFields:        append([]string(nil), obsolete...),
		MissingRequiredFields: append([]string(nil), missing...),
	}
	delete(s.queue, id)
	return nil
}

// ─── DeadLetterStore ───

type deadLetterStore Store

func (d *deadLetterStore) List(context.Context) ([]core.DeadLetterEntry, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DeadLetterEntry, 0, len(s.dead))
	for _, e := range s.dead {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out, nil
}

func (d *deadLetterStore) Get(_ context.Context, id string) (*core.DeadLetterEntry, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dead[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &e, nil
}

func (d *deadLetterStore) Requeue(_ context.Context, id string) error {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dead[id]
	if !ok {
		return core.ErrNotFound
	}
	m := e.Mutation
	m.RetryCount = 0
	s.seq++
	s.queue[id] = &queuedMutation{m: m, seq: s.seq}
	delete(s.dead, id)
	return nil
}

func (d *deadLetterStore) Delete(_ context.Context, id string) error {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dead[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.dead, id)
	return nil
}

// ─── CorruptedStore ───

type corruptedStore Store

func (c *corruptedStore) List(context.Context) ([]core.CorruptedEntry, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CorruptedEntry, 0, len(s.corrupted))
	for _, e := range s.corrupted {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorruptedAt.Before(out[j].CorruptedAt) })
	return out, nil
}

func (c *corruptedStore) Delete(_ context.Context, id string) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corrupted[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.corrupted, id)
	return nil
}

// ─── EntityStore ───

type entityStore Store

func (e *entityStore) Put(_ context.Context, entry core.CacheEntry, indexes map[string]string) error {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(entry, indexes)
	return nil
}

func (s *Store) putLocked(entry core.CacheEntry, indexes map[string]string) {
	if s.entities[entry.Kind] == nil {
		s.entities[entry.Kind] = map[string]core.CacheEntry{}
	}
	s.entities[entry.Kind][entry.ID] = entry
	s.dropIndexesLocked(entry.Kind, entry.ID)
	for name, value := range indexes {
		if value == "" {
			continue
		}
		if s.indexes[entry.Kind] == nil {
			s.indexes[entry.Kind] = map[string]map[string][]string{}
		}
		if s.indexes[entry.Kind][name] == nil {
			s.indexes[entry.Kind][name] = map[string][]string{}
		}
		s.indexes[entry.Kind][name][value] = append(s.indexes[entry.Kind][name][value], entry.ID)
	}
}

func (s *Store) dropIndexesLocked(kind, id string) {
	for name, byValue := range s.indexes[kind] {
		for value, ids := range byValue {
			keep := ids[:0]
			for _, x := range ids {
				if x != id {
					keep = append(keep, x)
				}
			}
			if len(keep) == 0 {
				delete(byValue, value)
			} else {
				byValue[value] = keep
			}
		}
		if len(byValue) == 0 {
			delete(s.indexes[kind], name)
		}
	}
}

func (e *entityStore) Get(_ context.Context, kind, id string) (*core.CacheEntry, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entities[kind][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &entry, nil
}

func (e *entityStore) ByIndex(_ context.Context, kind, name, value string) ([]core.CacheEntry, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CacheEntry
	for _, id := range s.indexes[kind][name][value] {
		if entry, ok := s.entities[kind][id]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (e *entityStore) All(_ context.Context, kind string) ([]core.CacheEntry, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CacheEntry, 0, len(s.entities[kind]))
	for _, entry := range s.entities[kind] {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (e *entityStore) Count(_ context.Context, kind string) (int, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities[kind]), nil
}

func (e *entityStore) Delete(_ context.Context, kind, id string) error {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[kind][id]; !ok {
		return core.ErrNotFound
	}
	delete(s.entities[kind], id)
	s.dropIndexesLocked(kind, id)
	return nil
}

func (e *entityStore) ReplaceAll(_ context.Context, kind string, entries []core.CacheEntry, indexes func(core.CacheEntry) map[string]string) error {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[kind] = map[string]core.CacheEntry{}
	delete(s.indexes, kind)
	for _, entry := range entries {
		var idx map[string]string
		if indexes != nil {
			idx = indexes(entry)
		}
		s.putLocked(entry, idx)
	}
	return nil
}

// ─── SessionStore ───

type sessionStore Store

func (st *sessionStore) Save(_ context.Context, rec core.SessionRecord) error {
	s := (*Store)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &rec
	return nil
}

func (st *sessionStore) Load(context.Context) (*core.SessionRecord, error) {
	s := (*Store)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, core.ErrNotFound
	}
	rec := *s.session
	return &rec, nil
}

func (st *sessionStore) Clear(context.Context) error {
	s := (*Store)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}
