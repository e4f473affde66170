// Package schema implementa el gateway de validación de payloads salientes.
//
// Todo payload pasa por acá UNA vez antes de entrar a la cola durable o de
// tocar la red: se normalizan los nombres de campo a la convención de la
// autoridad remota (snake_case) y se chequea la forma contra la tabla de
// schemas por categoría. La traducción de convenciones vive acá y en ningún
// otro lado.
package schema

import (
	"strings"
	"unicode"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// categorySchema describe la forma esperada para una categoría.
type categorySchema struct {
	// required: campos (convención remota) que deben estar presentes.
	required []string
	// known: set completo de campos aceptados (convención remota).
	known map[string]bool
	// aliases: nombres irregulares del caller -> nombre remoto. Los campos
	// camelCase regulares se resuelven con camelToSnake, esto cubre el resto.
	aliases map[string]string
}

var schemas = map[core.Category]categorySchema{
	core.CategoryCreateSale: {
		required: []string{"client_id", "warehouse_id", "items", "total", "payment_method"},
		known: set("client_id", "warehouse_id", "items", "total", "payment_method",
			"discount", "notes", "sold_at", "currency"),
		aliases: map[string]string{
			"clientId":  "client_id",
			"soldAt":    "sold_at",
			"warehouse": "warehouse_id",
		},
	},
	core.CategoryCreateMovement: {
		required: []string{"product_id", "warehouse_id", "quantity", "movement_type"},
		known: set("product_id", "warehouse_id", "quantity", "movement_type",
			"reason", "reference", "moved_at"),
		aliases: map[string]string{
			"type":    "movement_type",
			"movedAt": "moved_at",
		},
	},
	core.CategoryCreateClient: {
		required: []string{"name"},
		known:    set("name", "email", "phone", "tax_id", "address", "notes"),
		aliases: map[string]string{
			"taxId": "tax_id",
		},
	},
}

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Result es el resultado estructurado de una validación. Nunca un panic ni
// un error Go para mismatches de forma: el caller decide la ruta.
type Result struct {
	OK bool

	// Normalized es el payload con nombres en convención remota. Solo
	// presente cuando OK.
	Normalized map[string]any

	// MissingRequired: campos requeridos ausentes (convención remota).
	MissingRequired []string

	// Obsolete: campos presentes en el payload pero fuera del schema actual.
	// Señal de drift (campo renombrado o eliminado).
	Obsolete []string
}

// Gateway valida y normaliza payloads por categoría.
type Gateway struct {
	drift func(category core.Category, missing, obsolete []string)
}

// NewGateway construye el gateway. onDrift puede ser nil (sin notificación).
func NewGateway(onDrift func(category core.Category, missing, obsolete []string)) *Gateway {
	return &Gateway{drift: onDrift}
}

// Supported reporta si la categoría tiene schema conocido.
func (g *Gateway) Supported(cat core.Category) bool {
	_, ok := schemas[cat]
	return ok
}

// Validate normaliza raw a la convención remota y lo chequea contra el schema
// de la categoría. Es una función pura del payload + schema vigente: validar
// un payload ya normalizado produce el mismo resultado.
func (g *Gateway) Validate(raw map[string]any, cat core.Category) Result {
	sch, ok := schemas[cat]
	if !ok {
		// Categoría fuera del set cerrado. El procesador la trata como
		// fatal inmediata; acá solo reportamos el fallo.
		return Result{OK: false}
	}

	normalized := make(map[string]any, len(raw))
	var obsolete []string
	for k, v := range raw {
		name := sch.normalizeField(k)
		if !sch.known[name] {
			obsolete = append(obsolete, name)
			continue
		}
		normalized[name] = v
	}

	var missing []string
	for _, req := range sch.required {
		if _, ok := normalized[req]; !ok {
			missing = append(missing, req)
		}
	}

	if len(missing) > 0 || len(obsolete) > 0 {
		if g.drift != nil {
			g.drift(cat, missing, obsolete)
		}
		return Result{OK: false, MissingRequired: missing, Obsolete: obsolete}
	}
	return Result{OK: true, Normalized: normalized}
}

func (s categorySchema) normalizeField(name string) string {
	if alias, ok := s.aliases[name]; ok {
		return alias
	}
	return camelToSnake(name)
}

// camelToSnake convierte camelCase a snake_case. Idempotente sobre nombres
// que ya están en snake_case.
func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
