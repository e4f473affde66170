package core

import "context"

// QueueStore guarda mutaciones pendientes en orden FIFO (enqueued_at asc).
// Las transiciones MoveTo* son atómicas: la mutación se mueve entre stores
// dentro de una sola transacción, nunca se copia.
type QueueStore interface {
	Insert(ctx context.Context, m Mutation) error
	Get(ctx context.Context, id string) (*Mutation, error)

	// Pending retorna un snapshot completo ordenado por enqueued_at asc.
	// El procesador lee todo primero y recién después muta; nunca intercala.
	Pending(ctx context.Context) ([]Mutation, error)

	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)

	// IncrementRetry suma 1 a retry_count y retorna el valor nuevo.
	IncrementRetry(ctx context.Context, id string) (int, error)

	MoveToDeadLetter(ctx context.Context, id string, reason DeadLetterReason, errMsg string) error
	MoveToCorrupted(ctx context.Context, id, reason string, obsolete, missing []string) error
}

// DeadLetterStore expone la superficie operacional sobre items terminales.
type DeadLetterStore interface {
	List(ctx context.Context) ([]DeadLetterEntry, error)
	Get(ctx context.Context, id string) (*DeadLetterEntry, error)

	// Requeue devuelve la entrada a la cola con retry_count en 0.
	Requeue(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error
}

type CorruptedStore interface {
	List(ctx context.Context) ([]CorruptedEntry, error)
	Delete(ctx context.Context, id string) error
}

// EntityStore es el cache persistido de entidades, con índices secundarios
// para lookup O(1) por atributo (ej: código de barras de un producto).
type EntityStore interface {
	// Put inserta o reemplaza la entrada y sus índices secundarios.
	Put(ctx context.Context, e CacheEntry, indexes map[string]string) error

	Get(ctx context.Context, kind, id string) (*CacheEntry, error)
	ByIndex(ctx context.Context, kind, name, value string) ([]CacheEntry, error)
	All(ctx context.Context, kind string) ([]CacheEntry, error)
	Count(ctx context.Context, kind string) (int, error)
	Delete(ctx context.Context, kind, id string) error

	// ReplaceAll reemplaza todas las entradas de un kind en una transacción
	// (refresh write-through tras un GetAll remoto exitoso).
	ReplaceAll(ctx context.Context, kind string, entries []CacheEntry, indexes func(CacheEntry) map[string]string) error
}

type SessionStore interface {
	Save(ctx context.Context, s SessionRecord) error
	// Load retorna ErrNotFound si nunca hubo sesión persistida.
	Load(ctx context.Context) (*SessionRecord, error)
	Clear(ctx context.Context) error
}

// DataAccess agrupa los stores del subsistema. Una instancia por terminal;
// se construye explícitamente y se inyecta (nada de singletons de estado).
type DataAccess interface {
	Queue() QueueStore
	DeadLetters() DeadLetterStore
	Corrupted() CorruptedStore
	Entities() EntityStore
	Sessions() SessionStore

	Ping(ctx context.Context) error
	Close() error
}
