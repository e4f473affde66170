package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
)

// Log registra una acción de operador (retry/delete de dead-letter, purga de
// corruptos, kick manual). Sale por el logger estructurado con tag audit=true
// para poder filtrar y enviar a un sink externo.
func Log(ctx context.Context, event string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf,
		zap.Bool("audit", true),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	)
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	logger.Named("audit").Info(event, zf...)
}
