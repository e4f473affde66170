// Package syncer implementa el procesador de sincronización: drena la cola
// durable contra la autoridad remota cuando hay conectividad.
//
// Máquina de estados por ciclo de drain:
//
//	Idle → SessionCheck → Draining → (por item) Apply →
//	       Success | Retry | DeadLetter | Corrupted → Idle
//	SessionCheck fallido con evidencia de auth previa → Paused
//
// Un solo actor lógico: jamás corren dos ciclos en paralelo, y cada ciclo
// lee el snapshot completo de la cola antes de mutar nada.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tpvsync/internal/events"
	"github.com/dropDatabas3/tpvsync/internal/metrics"
	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/remote"
	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/session"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// RetryMax es el tope de reintentos transitorios antes de dead-letter.
const RetryMax = 3

// ErrAuthRequired es el hard stop: había evidencia de autenticación previa
// pero la sesión no se pudo refrescar. No se quema presupuesto de reintentos
// en items que van a fallar todos con el mismo error de autorización.
var ErrAuthRequired = errors.New("syncer: authentication required")

// State del procesador, para la superficie operacional.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateDraining:
		return "draining"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Authority es la porción de la autoridad remota que necesita el procesador.
// *remote.Client la implementa; los tests inyectan un fake.
type Authority interface {
	Apply(ctx context.Context, cat core.Category, payload map[string]any) (*remote.Result, error)
}

// Sessions es la porción del session manager que usa el ciclo.
type Sessions interface {
	Current(ctx context.Context) (*session.Session, error)
	Refresh(ctx context.Context) (*session.Session, error)
	HasAuthEvidence(ctx context.Context) bool
}

// Processor drena la cola. Construir con New; una instancia por terminal.
type Processor struct {
	queue     *queue.Queue
	gateway   *schema.Gateway
	authority Authority
	sessions  Sessions
	bus       *events.Bus

	retryMax     int
	applyTimeout time.Duration

	mu    sync.Mutex // un ciclo a la vez
	state atomic.Int32
	kick  chan struct{}
	log   *zap.Logger
}

// Option configura el procesador.
type Option func(*Processor)

// WithRetryMax cambia el tope de reintentos (default 3).
func WithRetryMax(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.retryMax = n
		}
	}
}

// WithApplyTimeout acota cada apply remoto. Un remoto colgado se vuelve
// fallo transitorio en vez de frenar el ciclo indefinidamente.
func WithApplyTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.applyTimeout = d
		}
	}
}

func New(q *queue.Queue, gw *schema.Gateway, authority Authority, sessions Sessions, bus *events.Bus, opts ...Option) *Processor {
	p := &Processor{
		queue:        q,
		gateway:      gw,
		authority:    authority,
		sessions:     sessions,
		bus:          bus,
		retryMax:     RetryMax,
		applyTimeout: 20 * time.Second,
		kick:         make(chan struct{}, 1),
		log:          logger.Named("syncer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State retorna el estado actual del procesador.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Kick dispara un ciclo de drain de forma asíncrona (fire-and-forget).
// Se usa al recuperar conectividad o tras un enqueue exitoso online.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default: // ya hay un ciclo pedido
	}
}

// Run corre el loop del daemon: drena por ticker y por Kick hasta que el
// contexto se cancele.
func (p *Processor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.kick:
		}
		if err := p.Drain(ctx); err != nil && !errors.Is(err, ErrAuthRequired) {
			p.log.Warn("drain cycle failed", logger.Err(err))
		}
	}
}

// Drain ejecuta un ciclo completo: session check, snapshot FIFO, apply item
// por item. Retorna ErrAuthRequired en el hard stop de sesión.
func (p *Processor) Drain(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ok, err := p.checkSession(ctx)
	if err != nil {
		p.state.Store(int32(StatePaused))
		return err
	}
	if !ok {
		// Nunca autenticado: salir en silencio, sin ruido.
		p.state.Store(int32(StateIdle))
		return nil
	}

	p.state.Store(int32(StateDraining))
	defer p.state.Store(int32(StateIdle))
	metrics.DrainCycles.Inc()

	// Snapshot completo primero, mutaciones después. Nunca intercalado.
	items, err := p.queue.DrainInOrder(ctx)
	if err != nil {
		return fmt.Errorf("syncer: snapshot: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	p.log.Info("drain cycle started", logger.Count(len(items)))

	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.applyOne(ctx, &items[i])
	}
	return nil
}

// checkSession valida la sesión antes de tocar la cola. Retorna (false, nil)
// para el exit silencioso de usuarios nunca autenticados, y ErrAuthRequired
// cuando el refresh falla pese a evidencia previa.
func (p *Processor) checkSession(ctx context.Context) (bool, error) {
	if _, err := p.sessions.Current(ctx); err == nil {
		return true, nil
	}

	// Exactamente un intento de refresh.
	if _, err := p.sessions.Refresh(ctx); err == nil {
		return true, nil
	}

	if !p.sessions.HasAuthEvidence(ctx) {
		return false, nil
	}
	p.log.Warn("session refresh failed with prior auth evidence: pausing")
	p.bus.Publish(events.TopicAuthRequired, map[string]any{
		"reason": "refresh_failed",
	})
	return false, ErrAuthRequired
}

func (p *Processor) applyOne(ctx context.Context, m *core.Mutation) {
	log := p.log.With(logger.MutationID(m.ID), logger.Category(string(m.Category)))

	// Modo simulado: nunca viaja a la autoridad remota.
	if m.Simulated {
		if err := p.queue.Remove(ctx, m.ID); err != nil {
			log.Warn("failed to discard simulated mutation", logger.Err(err))
		}
		return
	}

	// Categoría fuera del set cerrado: fatal inmediato, un reintento no
	// puede cambiar el resultado.
	if !p.gateway.Supported(m.Category) {
		p.deadLetter(ctx, m, core.ReasonUnsupported, fmt.Sprintf("unsupported category %q", m.Category))
		return
	}

	// Re-validar: el schema pudo driftear desde el enqueue.
	res := p.gateway.Validate(m.Payload, m.Category)
	if !res.OK {
		if err := p.queue.MoveToCorrupted(ctx, m.ID, "schema drift since enqueue", res.Obsolete, res.MissingRequired); err != nil {
			log.Error("failed to move mutation to corrupted", logger.Err(err))
			return
		}
		log.Warn("mutation moved to corrupted",
			zap.Strings("missing", res.MissingRequired), zap.Strings("obsolete", res.Obsolete))
		return
	}

	applyCtx, cancel := context.WithTimeout(ctx, p.applyTimeout)
	start := time.Now()
	result, err := p.authority.Apply(applyCtx, m.Category, res.Normalized)
	cancel()
	metrics.ApplyLatency.Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err != nil:
		// Transporte (red, timeout): transitorio.
		p.retryOrDeadLetter(ctx, m, err.Error())

	case result.Success:
		if err := p.queue.Remove(ctx, m.ID); err != nil {
			log.Error("applied remotely but failed to remove locally", logger.Err(err))
			return
		}
		metrics.Applied.Inc()
		log.Info("mutation applied", logger.Duration(time.Since(start)))

	case result.Retryable:
		p.retryOrDeadLetter(ctx, m, result.Error)

	default:
		// Rechazo permanente de regla de negocio: dead-letter inmediato,
		// sin consumir reintentos.
		p.deadLetter(ctx, m, core.ReasonRejected, result.Error)
	}
}

func (p *Processor) retryOrDeadLetter(ctx context.Context, m *core.Mutation, cause string) {
	log := p.log.With(logger.MutationID(m.ID), logger.Category(string(m.Category)))

	count, err := p.queue.IncrementRetry(ctx, m.ID)
	if err != nil {
		log.Error("failed to increment retry", logger.Err(err))
		return
	}
	metrics.Retried.Inc()
	if count <= p.retryMax {
		// Queda en la cola para el próximo ciclo.
		log.Warn("transient failure, will retry", logger.RetryCount(count), zap.String("cause", cause))
		return
	}
	p.deadLetter(ctx, m, core.ReasonRetriesExhausted, cause)
}

func (p *Processor) deadLetter(ctx context.Context, m *core.Mutation, reason core.DeadLetterReason, cause string) {
	log := p.log.With(logger.MutationID(m.ID), logger.Category(string(m.Category)))

	if err := p.queue.MoveToDeadLetter(ctx, m.ID, reason, cause); err != nil {
		log.Error("failed to move mutation to dead-letter", logger.Err(err))
		return
	}
	log.Warn("mutation dead-lettered", logger.Reason(string(reason)), zap.String("cause", cause))
	p.bus.Publish(events.TopicDeadLetter, map[string]any{
		"mutation_id": m.ID,
		"category":    string(m.Category),
		"reason":      string(reason),
		"error":       cause,
	})
}
