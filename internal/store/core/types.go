package core

import "time"

// Category identifica el tipo de transacción encolada.
// Es un set cerrado: el procesador rechaza categorías desconocidas.
type Category string

const (
	CategoryCreateSale     Category = "create-sale"
	CategoryCreateMovement Category = "create-movement"
	CategoryCreateClient   Category = "create-client"
)

// KnownCategory reports whether c belongs to the closed category set.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryCreateSale, CategoryCreateMovement, CategoryCreateClient:
		return true
	}
	return false
}

// Mutation es una escritura pendiente de entrega a la autoridad remota.
// El payload ya pasó por el gateway de validación antes de construirse:
// la cola nunca guarda datos sin normalizar.
type Mutation struct {
	ID         string         `json:"id"`
	Category   Category       `json:"category"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	RetryCount int            `json:"retry_count"`
	Simulated  bool           `json:"simulated"`
}

// DeadLetterReason distingue por qué una mutación terminó en dead-letter.
// Se guarda por separado para que "rechazo permanente" y "categoría no
// soportada" no queden mezclados bajo un mismo código.
type DeadLetterReason string

const (
	ReasonRetriesExhausted DeadLetterReason = "retries_exhausted"
	ReasonRejected         DeadLetterReason = "rejected"
	ReasonUnsupported      DeadLetterReason = "unsupported_category"
)

// DeadLetterEntry es una mutación que agotó reintentos o fue rechazada
// de forma permanente. Terminal: sale solo por acción explícita del operador.
type DeadLetterEntry struct {
	Mutation
	Error    string           `json:"error"`
	Reason   DeadLetterReason `json:"reason"`
	FailedAt time.Time        `json:"failed_at"`
}

// CorruptedEntry es una mutación válida al encolarse pero que falló la
// re-validación al drenar (el schema cambió debajo). Nunca se reintenta sola.
type CorruptedEntry struct {
	Mutation
	CorruptedAt           time.Time `json:"corrupted_at"`
	Reason                string    `json:"reason"`
	ObsoleteFields        []string  `json:"obsolete_fields"`
	MissingRequiredFields []string  `json:"missing_required_fields"`
}

// CacheEntry es la copia local persistida de una entidad de dominio.
// La copia autoritativa vive en la autoridad remota; esto es un hint.
type CacheEntry struct {
	Kind      string         `json:"kind"` // "product", "sale", "client", ...
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionRecord persiste la última sesión conocida. Su existencia es la
// "evidencia de autenticación previa" que consulta el procesador.
type SessionRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ObtainedAt   time.Time `json:"obtained_at"`
}
