// Package queue implementa la cola durable de mutaciones pendientes.
//
// FIFO por enqueued_at, capacidad acotada (backpressure, no pérdida
// silenciosa), y transiciones atómicas hacia los stores auxiliares
// (dead-letter y corrupted). La cola nunca guarda un payload que no haya
// pasado por el gateway de validación: Submit es la única puerta de entrada.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tpvsync/internal/metrics"
	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// DefaultCapacity es el máximo de mutaciones pendientes antes de rechazar
// nuevos enqueues.
const DefaultCapacity = 50

// Queue es la cola durable. Construir con New e inyectar; no hay singleton.
type Queue struct {
	store     core.QueueStore
	gateway   *schema.Gateway
	capacity  int
	simulated bool
	log       *zap.Logger
}

// Option configura la cola.
type Option func(*Queue)

// WithCapacity cambia el límite de pendientes (default 50).
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithSimulated pone la cola en modo simulado (terminal de demo o
// capacitación): toda mutación aceptada se marca Simulated y el procesador
// la descarta al drenar sin tocar la red.
func WithSimulated(v bool) Option {
	return func(q *Queue) { q.simulated = v }
}

func New(store core.QueueStore, gw *schema.Gateway, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		gateway:  gw,
		capacity: DefaultCapacity,
		log:      logger.Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SubmitResult es el resultado de un Submit.
type SubmitResult struct {
	// Mutation queda no-nil solo cuando la mutación entró a la cola.
	Mutation *core.Mutation

	// Accepted en false significa backpressure: la cola está llena y el
	// caller tiene que reaccionar (bloquear la acción del usuario).
	Accepted bool

	// Validation trae el detalle cuando el gateway rechaza el payload.
	Validation schema.Result
}

// Submit valida el payload por el gateway, construye la mutación y la
// encola. Un payload rechazado nunca toca la cola.
func (q *Queue) Submit(ctx context.Context, cat core.Category, raw map[string]any, simulated bool) (SubmitResult, error) {
	res := q.gateway.Validate(raw, cat)
	if !res.OK {
		q.log.Warn("submit rejected by schema gateway",
			logger.Category(string(cat)),
			zap.Strings("missing", res.MissingRequired),
			zap.Strings("obsolete", res.Obsolete))
		return SubmitResult{Validation: res}, nil
	}

	m := core.Mutation{
		ID:         uuid.NewString(),
		Category:   cat,
		Payload:    res.Normalized,
		EnqueuedAt: time.Now().UTC(),
		Simulated:  simulated || q.simulated,
	}
	accepted, err := q.Enqueue(ctx, m)
	if err != nil {
		return SubmitResult{Validation: res}, err
	}
	out := SubmitResult{Accepted: accepted, Validation: res}
	if accepted {
		out.Mutation = &m
	}
	return out, nil
}

// Enqueue inserta una mutación ya validada. Retorna false (sin error) cuando
// la cola está a capacidad: los pendientes existentes no se tocan.
func (q *Queue) Enqueue(ctx context.Context, m core.Mutation) (bool, error) {
	n, err := q.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("queue: count: %w", err)
	}
	if n >= q.capacity {
		q.log.Warn("enqueue rejected: queue at capacity",
			logger.QueueSize(n), zap.Int("capacity", q.capacity))
		return false, nil
	}
	if err := q.store.Insert(ctx, m); err != nil {
		return false, fmt.Errorf("queue: insert: %w", err)
	}
	metrics.QueueSize.Set(float64(n + 1))
	q.log.Info("mutation enqueued",
		logger.MutationID(m.ID), logger.Category(string(m.Category)), logger.QueueSize(n+1))
	return true, nil
}

// Has reporta si una mutación sigue pendiente en la cola.
func (q *Queue) Has(ctx context.Context, id string) (bool, error) {
	_, err := q.store.Get(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: get %s: %w", id, err)
	}
	return true, nil
}

// DrainInOrder retorna el snapshot completo de pendientes, ordenado por
// enqueued_at ascendente (más viejo primero). El caller lee todo y recién
// después muta, nunca intercala lecturas y escrituras sobre el store.
func (q *Queue) DrainInOrder(ctx context.Context) ([]core.Mutation, error) {
	return q.store.Pending(ctx)
}

// Remove borra una mutación entregada con éxito.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	q.syncSizeMetric(ctx)
	return nil
}

// IncrementRetry suma un reintento y retorna el contador nuevo.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (int, error) {
	return q.store.IncrementRetry(ctx, id)
}

// MoveToDeadLetter mueve (no copia) la mutación al store terminal.
func (q *Queue) MoveToDeadLetter(ctx context.Context, id string, reason core.DeadLetterReason, errMsg string) error {
	if err := q.store.MoveToDeadLetter(ctx, id, reason, errMsg); err != nil {
		return fmt.Errorf("queue: move to dead-letter %s: %w", id, err)
	}
	metrics.DeadLettered.Inc()
	q.syncSizeMetric(ctx)
	return nil
}

// MoveToCorrupted mueve la mutación al store de corruptos (drift de schema
// detectado al drenar).
func (q *Queue) MoveToCorrupted(ctx context.Context, id, reason string, obsolete, missing []string) error {
	if err := q.store.MoveToCorrupted(ctx, id, reason, obsolete, missing); err != nil {
		return fmt.Errorf("queue: move to corrupted %s: %w", id, err)
	}
	metrics.Corrupted.Inc()
	q.syncSizeMetric(ctx)
	return nil
}

// Size retorna la cantidad de pendientes.
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.store.Count(ctx)
}

// Capacity retorna el límite configurado.
func (q *Queue) Capacity() int { return q.capacity }

func (q *Queue) syncSizeMetric(ctx context.Context) {
	if n, err := q.store.Count(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}
}
