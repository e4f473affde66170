// Package cache provee el cache caliente de entidades delante del store
// persistido. Multi-backend:
//
//   - memory (in-process, default: una terminal sola)
//   - redis (varias cajas compartiendo mostrador)
//
// Es un hint de lectura con TTL: un miss cae al cache persistido en sqlite.
// Nunca es fuente de verdad.
package cache

import (
	"fmt"
	"time"
)

// Cache define las operaciones del cache caliente.
type Cache interface {
	Get(k string) ([]byte, bool)
	Set(k string, v []byte, ttl time.Duration)
	Delete(k string)
}

// Config para construir un backend.
type Config struct {
	Kind       string // "memory" | "redis"
	DefaultTTL time.Duration

	// Redis
	Addr   string
	DB     int
	Prefix string
}

// New crea el cache según configuración. Default: memory.
func New(cfg Config) (Cache, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 2 * time.Minute
	}
	switch cfg.Kind {
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("cache: redis addr is required")
		}
		return NewRedis(cfg.Addr, cfg.DB, cfg.Prefix), nil
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("cache: unknown kind %q", cfg.Kind)
	}
}
