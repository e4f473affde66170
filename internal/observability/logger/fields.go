package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar del dominio sync. Usar estos helpers en vez de strings
// sueltos para que los nombres queden consistentes entre componentes.

// MutationID crea un campo para el ID de una mutación encolada.
func MutationID(v string) zap.Field {
	return zap.String("mutation_id", v)
}

// Category crea un campo para la categoría de la transacción.
func Category(v string) zap.Field {
	return zap.String("category", v)
}

// EntityKind crea un campo para el tipo de entidad cacheada.
func EntityKind(v string) zap.Field {
	return zap.String("entity_kind", v)
}

// EntityID crea un campo para el ID de una entidad.
func EntityID(v string) zap.Field {
	return zap.String("entity_id", v)
}

// QueueSize crea un campo para el tamaño actual de la cola.
func QueueSize(v int) zap.Field {
	return zap.Int("queue_size", v)
}

// RetryCount crea un campo para el contador de reintentos.
func RetryCount(v int) zap.Field {
	return zap.Int("retry_count", v)
}

// Reason crea un campo para el motivo de un movimiento terminal.
func Reason(v string) zap.Field {
	return zap.String("reason", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Count crea un campo para un conteo genérico.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
