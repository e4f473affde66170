// Package store resuelve la implementación de core.DataAccess según driver.
package store

import (
	"fmt"

	"github.com/dropDatabas3/tpvsync/internal/store/core"
	"github.com/dropDatabas3/tpvsync/internal/store/memory"
	"github.com/dropDatabas3/tpvsync/internal/store/sqlite"
)

// Config selecciona el backend durable local.
type Config struct {
	Driver string // "sqlite" | "memory"
	Path   string // ruta del archivo sqlite
}

// Open construye el DataAccess. Default: sqlite.
func Open(cfg Config) (core.DataAccess, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
