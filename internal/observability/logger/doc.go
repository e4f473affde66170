// Package logger provee un logger Zap singleton para toda la terminal.
//
//   - Singleton: una sola instancia global inicializada con Init() en main.
//   - Named loggers: cada componente pide el suyo (logger.Named("syncer")).
//   - Dev vs prod: consola con colores en dev, JSON en prod.
//
// Uso:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//	log := logger.Named("queue")
//	log.Info("mutation enqueued", logger.MutationID(m.ID), logger.Category(string(m.Category)))
package logger
