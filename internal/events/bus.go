// Package events implementa el pub/sub in-process del subsistema de sync.
//
// El publish es fire-and-forget: si el canal de un suscriptor está lleno, el
// evento se descarta para ese suscriptor (y se cuenta). El core nunca se
// bloquea esperando a un consumidor.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"go.uber.org/zap"
)

// Topic identifica la clase de evento.
type Topic string

const (
	TopicSchemaDrift  Topic = "schema.drift.detected"
	TopicAuthRequired Topic = "auth.required"
	TopicDesync       Topic = "cache.desync.detected"
	TopicDeadLetter   Topic = "queue.deadletter"
)

// Event es una notificación de observabilidad. No espera respuesta.
type Event struct {
	Topic  Topic          `json:"topic"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool // vacío = todos
}

// Bus distribuye eventos a suscriptores. Una instancia por terminal, inyectada.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64

	log *zap.Logger
}

func NewBus() *Bus {
	return &Bus{
		subs: map[int]*subscriber{},
		log:  logger.Named("events"),
	}
}

// Subscribe registra un consumidor. Sin topics se reciben todos.
// El cancel devuelto cierra el canal; es seguro llamarlo más de una vez.
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{
		ch:     make(chan Event, buffer),
		topics: map[Topic]bool{},
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish emite un evento sin bloquear. Los suscriptores con canal lleno
// pierden el evento.
func (b *Bus) Publish(topic Topic, fields map[string]any) {
	if b == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev := Event{Topic: topic, At: time.Now().UTC(), Fields: fields}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.log.Warn("event dropped: subscriber buffer full", zap.String("topic", string(topic)))
		}
	}
}

// Dropped retorna la cantidad de eventos descartados por buffers llenos.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
