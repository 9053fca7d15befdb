package persistence

import (
	"context"
	"fmt"

	"github.com/aristath/crew/internal/config"
	"go.uber.org/zap"
)

// Open builds the gateway selected by cfg.Persistence.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Persistence.Driver {
	case "", "sqlite":
		path := cfg.SQLitePath()
		logger.Info("opening sqlite store", zap.String("path", path))
		return NewSQLiteGateway(ctx, path)
	case "file":
		dir := cfg.FileDir()
		logger.Info("opening file store", zap.String("dir", dir))
		return NewFileGateway(dir, logger)
	case "redis":
		logger.Info("connecting to redis store", zap.String("addr", cfg.Persistence.Redis.Addr))
		return NewRedisGateway(ctx, cfg.Persistence.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}
