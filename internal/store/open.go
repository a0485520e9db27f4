// File: internal/store/open.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Open builds the persistence backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (taint.Backend, error) {
	logger.Info("Opening tainted domain storage.", zap.String("backend", cfg.Backend))

	switch strings.ToLower(cfg.Backend) {
	case config.BackendFile:
		return NewFile(cfg.Path, logger), nil
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.Path, logger)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisKey, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
