// Package http expone la superficie operacional del sincronizador: estado de
// la cola, gestión de dead-letter y corruptos, kick manual, health y métricas.
// Es una API local de operación, no la API de negocio del TPV.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
	"github.com/dropDatabas3/tpvsync/internal/syncer"
)

// SyncController es lo que el router necesita del procesador.
type SyncController interface {
	Kick()
	State() syncer.State
}

// Deps agrupa las dependencias del router.
type Deps struct {
	Queue     *queue.Queue
	DLQ       core.DeadLetterStore
	Corrupted core.CorruptedStore
	Syncer    SyncController
}

// NewRouter arma el chi.Mux con middlewares y rutas v1.
func NewRouter(deps Deps) (http.Handler, error) {
	metricsHandler, err := RegisterMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithRecover)
	r.Use(WithMetrics)
	r.Use(WithLogging)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queue", h.queueStatus)

		r.Route("/queue/dead-letter", func(r chi.Router) {
			r.Get("/", h.deadLetterList)
			r.Post("/{id}/retry", h.deadLetterRetry)
			r.Delete("/{id}", h.deadLetterDelete)
		})

		r.Route("/queue/corrupted", func(r chi.Router) {
			r.Get("/", h.corruptedList)
			r.Delete("/{id}", h.corruptedDelete)
		})

		r.Get("/sync/status", h.syncStatus)
		r.Post("/sync/kick", h.syncKick)
	})

	return r, nil
}
