// Package metrics define las métricas Prometheus del subsistema de sync.
// Están en un paquete standalone para evitar ciclos de import entre la cola,
// el procesador y la capa HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_queue_size",
		Help: "Mutaciones pendientes en la cola durable",
	})

	DrainCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_drain_cycles_total",
		Help: "Ciclos de drain ejecutados",
	})

	Applied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_mutations_applied_total",
		Help: "Mutaciones aplicadas con éxito contra la autoridad remota",
	})

	Retried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_mutations_retried_total",
		Help: "Fallos transitorios que incrementaron retry_count",
	})

	DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_mutations_dead_lettered_total",
		Help: "Mutaciones movidas a dead-letter",
	})

	Corrupted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_mutations_corrupted_total",
		Help: "Mutaciones movidas a corrupted por drift de schema",
	})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_cache_hits_total",
		Help: "Hits del cache local por tipo de entidad",
	}, []string{"kind"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_cache_misses_total",
		Help: "Misses del cache local por tipo de entidad",
	}, []string{"kind"})

	ApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_apply_latency_ms",
		Help:    "Latencia del apply remoto en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Register registra todas las métricas en el registry dado (default si nil).
// Tolera AlreadyRegisteredError para poder llamarse desde tests repetidos.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		QueueSize, DrainCycles, Applied, Retried, DeadLettered, Corrupted,
		CacheHits, CacheMisses, ApplyLatency,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
