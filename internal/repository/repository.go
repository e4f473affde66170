// Package repository implementa el adapter cache-ahead: la fachada de
// lectura/escritura que usa la lógica de aplicación.
//
// Lecturas: remote-first con refresh write-through del cache local; si la
// autoridad remota no responde se sirve el cache. Escrituras: optimistas
// contra el cache local, con rollback cuando el remoto confirma un rechazo.
// El conflicto se resuelve siempre "remote wins, local rolls back", nunca
// por merge.
//
// Cada entidad declara su WriteIntent: ImmediateWithRollback (camino
// directo, sincrónico) o QueuedReplay (transacciones como ventas, que van
// por gateway → cola → procesador). Así los dos caminos de escritura son
// variantes explícitas y no implementaciones paralelas ad hoc.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/tpvsync/internal/cache"
	"github.com/dropDatabas3/tpvsync/internal/events"
	"github.com/dropDatabas3/tpvsync/internal/metrics"
	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/remote"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// WriteIntent selecciona la estrategia de escritura de un tipo de entidad.
type WriteIntent int

const (
	// ImmediateWithRollback escribe local y remoto en el mismo call,
	// deshaciendo lo local si el remoto rechaza.
	ImmediateWithRollback WriteIntent = iota

	// QueuedReplay pasa por gateway → cola durable → procesador. La
	// escritura queda desacoplada de la conectividad.
	QueuedReplay
)

// Definition describe un tipo de entidad manejado por el adapter.
type Definition struct {
	// Kind es el nombre remoto de la colección ("products", "sales", ...).
	Kind string

	// Indexes: nombre de índice secundario -> campo del payload (convención
	// remota). Lookup O(1) en vez de full scan.
	Indexes map[string]string

	// Write es la estrategia de escritura.
	Write WriteIntent

	// Category de cola para QueuedReplay.
	Category core.Category
}

// Errores del adapter.
var ErrQueueFull = errors.New("repository: sync queue at capacity")

// RejectionError es un rechazo confirmado por la autoridad remota. La copia
// optimista local ya fue deshecha cuando este error llega al caller.
type RejectionError struct {
	Kind string
	Msg  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("repository: %s rejected by remote authority: %s", e.Kind, e.Msg)
}

// ValidationError es el rechazo del gateway en el camino QueuedReplay.
type ValidationError struct {
	Missing  []string
	Obsolete []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("repository: payload failed schema validation (missing=%v obsolete=%v)", e.Missing, e.Obsolete)
}

// Authority es la porción del cliente remoto que usa el adapter.
type Authority interface {
	FetchAll(ctx context.Context, kind string) ([]map[string]any, error)
	CreateEntity(ctx context.Context, kind string, payload map[string]any) (*remote.Result, error)
	UpdateEntity(ctx context.Context, kind, id string, payload map[string]any) (*remote.Result, error)
	DeleteEntity(ctx context.Context, kind, id string) (*remote.Result, error)
	Reachable(ctx context.Context) bool
}

// Notifier dispara un drain tras un enqueue online (fire-and-forget).
// *syncer.Processor lo implementa con Kick.
type Notifier interface {
	Kick()
}

// Repository es el adapter por tipo de entidad.
type Repository struct {
	def   Definition
	store core.EntityStore
	hot   cache.Cache
	auth  Authority
	queue *queue.Queue
	bus   *events.Bus
	sync  Notifier

	hotTTL time.Duration
	flight singleflight.Group
	log    *zap.Logger
}

// Option configura el repository.
type Option func(*Repository)

// WithHotTTL cambia el TTL del cache caliente (default 2m).
func WithHotTTL(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.hotTTL = d
		}
	}
}

// WithSyncNotifier engancha el Kick al procesador para el camino encolado.
func WithSyncNotifier(n Notifier) Option {
	return func(r *Repository) { r.sync = n }
}

// New construye el adapter. q puede ser nil si la entidad no usa QueuedReplay.
func New(def Definition, store core.EntityStore, hot cache.Cache, auth Authority, q *queue.Queue, bus *events.Bus, opts ...Option) *Repository {
	r := &Repository{
		def:    def,
		store:  store,
		hot:    hot,
		auth:   auth,
		queue:  q,
		bus:    bus,
		hotTTL: 2 * time.Minute,
		log:    logger.Named("repository").With(logger.EntityKind(def.Kind)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kind retorna el nombre de colección de la definición.
func (r *Repository) Kind() string { return r.def.Kind }

// GetAll trae todas las entidades: remotas si hay conectividad (con refresh
// write-through del cache), locales si no.
//
// Guardia anti-desync: si el remoto dice CERO filas y el cache local tiene
// N>0, eso se trata como señal de desincronización (gap de sesión o de
// autorización disfrazado de "dataset vacío") y NO como verdad: el cache no
// se pisa y se emite un evento.
func (r *Repository) GetAll(ctx context.Context) ([]map[string]any, error) {
	v, err, _ := r.flight.Do("getall:"+r.def.Kind, func() (any, error) {
		return r.getAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

func (r *Repository) getAll(ctx context.Context) ([]map[string]any, error) {
	if !r.auth.Reachable(ctx) {
		return r.allLocal(ctx)
	}

	rows, err := r.auth.FetchAll(ctx, r.def.Kind)
	if err != nil {
		r.log.Warn("remote fetch failed, serving local cache", logger.Err(err))
		return r.allLocal(ctx)
	}

	if len(rows) == 0 {
		localCount, cerr := r.store.Count(ctx, r.def.Kind)
		if cerr == nil && localCount > 0 {
			r.log.Warn("remote returned zero rows with nonempty local cache: desync",
				logger.Count(localCount))
			r.bus.Publish(events.TopicDesync, map[string]any{
				"kind":        r.def.Kind,
				"local_count": localCount,
			})
			return r.allLocal(ctx)
		}
	}

	entries := make([]core.CacheEntry, 0, len(rows))
	now := time.Now().UTC()
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		id := entityID(row)
		seen[id] = true
		entries = append(entries, core.CacheEntry{
			Kind:      r.def.Kind,
			ID:        id,
			Data:      row,
			UpdatedAt: now,
		})
	}

	// Las copias optimistas de mutaciones todavía encoladas sobreviven al
	// refresh: el remoto aún no las conoce, pisarlas haría "desaparecer" una
	// venta que el usuario ya vio guardada.
	pending, err := r.pendingQueued(ctx, seen)
	if err != nil {
		r.log.Warn("could not resolve pending queued copies", logger.Err(err))
	}
	entries = append(entries, pending...)
	for _, p := range pending {
		rows = append(rows, p.Data)
	}

	if err := r.store.ReplaceAll(ctx, r.def.Kind, entries, r.indexValues); err != nil {
		r.log.Error("write-through refresh failed", logger.Err(err))
	}
	return rows, nil
}

// pendingQueued retorna las entradas locales marcadas pending_sync cuya
// mutación sigue en la cola. Una entrada pendiente cuya mutación ya no está
// no se preserva: el remoto pasa a ser la verdad sobre ella.
func (r *Repository) pendingQueued(ctx context.Context, seen map[string]bool) ([]core.CacheEntry, error) {
	if r.queue == nil {
		return nil, nil
	}
	locals, err := r.store.All(ctx, r.def.Kind)
	if err != nil {
		return nil, err
	}
	var out []core.CacheEntry
	for _, e := range locals {
		if seen[e.ID] {
			continue
		}
		flagged, _ := e.Data["pending_sync"].(bool)
		if !flagged {
			continue
		}
		queued, err := r.queue.Has(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if queued {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Repository) allLocal(ctx context.Context) ([]map[string]any, error) {
	entries, err := r.store.All(ctx, r.def.Kind)
	if err != nil {
		return nil, fmt.Errorf("repository: local scan: %w", err)
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out, nil
}

// GetByID busca primero en el cache caliente, después en el persistido y
// por último con un scan completo (remoto si se puede).
func (r *Repository) GetByID(ctx context.Context, id string) (map[string]any, error) {
	if data, ok := r.hotGet(id); ok {
		metrics.CacheHits.WithLabelValues(r.def.Kind).Inc()
		return data, nil
	}
	if e, err := r.store.Get(ctx, r.def.Kind, id); err == nil {
		metrics.CacheHits.WithLabelValues(r.def.Kind).Inc()
		r.hotSet(id, e.Data)
		return e.Data, nil
	}
	metrics.CacheMisses.WithLabelValues(r.def.Kind).Inc()

	rows, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if entityID(row) == id {
			r.hotSet(id, row)
			return row, nil
		}
	}
	return nil, nil
}

// GetByIndex resuelve por índice secundario (O(1) contra el cache); si el
// índice no tiene nada cae a un scan completo.
func (r *Repository) GetByIndex(ctx context.Context, name, value string) ([]map[string]any, error) {
	field, ok := r.def.Indexes[name]
	if !ok {
		return nil, fmt.Errorf("repository: %s has no index %q", r.def.Kind, name)
	}

	entries, err := r.store.ByIndex(ctx, r.def.Kind, name, value)
	if err == nil && len(entries) > 0 {
		metrics.CacheHits.WithLabelValues(r.def.Kind).Inc()
		out := make([]map[string]any, len(entries))
		for i, e := range entries {
			out[i] = e.Data
		}
		return out, nil
	}
	metrics.CacheMisses.WithLabelValues(r.def.Kind).Inc()

	rows, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, row := range rows {
		if str(row[field]) == value {
			out = append(out, row)
		}
	}
	return out, nil
}

// Create escribe optimista en el cache local y después intenta el remoto.
//
//   - Rechazo remoto confirmado: la copia optimista se deshace ENTERA y el
//     rechazo llega al caller como *RejectionError.
//   - Excepción de red (no rechazo): la copia optimista queda y se retorna;
//     por este camino no hay otra garantía de entrega.
//
// Para entidades QueuedReplay, Create valida por el gateway y encola en vez
// de tocar la red.
func (r *Repository) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	if r.def.Write == QueuedReplay {
		return r.createQueued(ctx, data)
	}

	id := entityID(data)
	if id == "" {
		id = uuid.NewString()
		data["id"] = id
	}
	if err := r.putLocal(ctx, id, data); err != nil {
		return nil, err
	}

	res, err := r.auth.CreateEntity(ctx, r.def.Kind, data)
	if err != nil {
		// Red caída: la copia optimista sobrevive.
		r.log.Warn("remote create unreachable, keeping optimistic copy",
			logger.EntityID(id), logger.Err(err))
		return data, nil
	}
	if !res.Success {
		// Rechazo confirmado: rollback total.
		r.rollbackLocal(ctx, id)
		return nil, &RejectionError{Kind: r.def.Kind, Msg: res.Error}
	}

	// El remoto puede asignar su propio id autoritativo.
	if res.ID != "" && res.ID != id {
		r.rollbackLocal(ctx, id)
		data["id"] = res.ID
		if err := r.putLocal(ctx, res.ID, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *Repository) createQueued(ctx context.Context, data map[string]any) (map[string]any, error) {
	if r.queue == nil {
		return nil, fmt.Errorf("repository: %s declares QueuedReplay but has no queue", r.def.Kind)
	}
	sub, err := r.queue.Submit(ctx, r.def.Category, data, false)
	if err != nil {
		return nil, err
	}
	if !sub.Validation.OK {
		return nil, &ValidationError{
			Missing:  sub.Validation.MissingRequired,
			Obsolete: sub.Validation.Obsolete,
		}
	}
	if !sub.Accepted {
		return nil, ErrQueueFull
	}

	// Copia optimista local: para el usuario la venta ya está "guardada",
	// con su indicador de pendiente hasta que el procesador confirme.
	m := sub.Mutation
	local := cloneMap(m.Payload)
	local["id"] = m.ID
	local["pending_sync"] = true
	if err := r.putLocal(ctx, m.ID, local); err != nil {
		return nil, err
	}

	if r.sync != nil && r.auth.Reachable(ctx) {
		r.sync.Kick()
	}
	return local, nil
}

// Update mergea el parcial sobre la última versión conocida, escribe local
// optimista e intenta el remoto. Rechazo → restaurar el valor pre-merge.
// Excepción de red → el merge optimista queda.
func (r *Repository) Update(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	prev, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	prevCopy := cloneMap(prev)

	merged := cloneMap(prev)
	for k, v := range partial {
		merged[k] = v
	}
	merged["id"] = id

	if err := r.putLocal(ctx, id, merged); err != nil {
		return nil, err
	}

	res, err := r.auth.UpdateEntity(ctx, r.def.Kind, id, merged)
	if err != nil {
		r.log.Warn("remote update unreachable, keeping optimistic merge",
			logger.EntityID(id), logger.Err(err))
		return merged, nil
	}
	if !res.Success {
		// Restaurar el valor pre-merge.
		if rerr := r.putLocal(ctx, id, prevCopy); rerr != nil {
			r.log.Error("failed to restore pre-merge value", logger.EntityID(id), logger.Err(rerr))
		}
		return nil, &RejectionError{Kind: r.def.Kind, Msg: res.Error}
	}
	return merged, nil
}

// Delete borra local primero, incondicional, y después intenta el remoto.
// Un fallo remoto NO restaura la entrada: el delete es intención local
// autoritativa.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	err := r.store.Delete(ctx, r.def.Kind, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return false, fmt.Errorf("repository: local delete: %w", err)
	}
	deleted := err == nil
	r.hot.Delete(r.hotKey(id))

	if res, rerr := r.auth.DeleteEntity(ctx, r.def.Kind, id); rerr != nil {
		r.log.Warn("remote delete unreachable", logger.EntityID(id), logger.Err(rerr))
	} else if !res.Success {
		r.log.Warn("remote delete rejected", logger.EntityID(id), zap.String("error", res.Error))
	}
	return deleted, nil
}

// ─── helpers ───

func (r *Repository) putLocal(ctx context.Context, id string, data map[string]any) error {
	e := core.CacheEntry{
		Kind:      r.def.Kind,
		ID:        id,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.store.Put(ctx, e, r.indexValues(e)); err != nil {
		return fmt.Errorf("repository: local put: %w", err)
	}
	r.hotSet(id, data)
	return nil
}

func (r *Repository) rollbackLocal(ctx context.Context, id string) {
	if err := r.store.Delete(ctx, r.def.Kind, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		r.log.Error("optimistic rollback failed", logger.EntityID(id), logger.Err(err))
	}
	r.hot.Delete(r.hotKey(id))
}

func (r *Repository) indexValues(e core.CacheEntry) map[string]string {
	if len(r.def.Indexes) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.def.Indexes))
	for name, field := range r.def.Indexes {
		if v := str(e.Data[field]); v != "" {
			out[name] = v
		}
	}
	return out
}

func (r *Repository) hotKey(id string) string { return r.def.Kind + ":" + id }

func (r *Repository) hotGet(id string) (map[string]any, bool) {
	b, ok := r.hot.Get(r.hotKey(id))
	if !ok {
		return nil, false
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, false
	}
	return data, true
}

func (r *Repository) hotSet(id string, data map[string]any) {
	if b, err := json.Marshal(data); err == nil {
		r.hot.Set(r.hotKey(id), b, r.hotTTL)
	}
}

func entityID(data map[string]any) string {
	return str(data["id"])
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
