package launcher

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	localcheckpoint "github.com/JakeFAU/icrawler/internal/checkpoint/local"
	memorycheckpoint "github.com/JakeFAU/icrawler/internal/checkpoint/memory"
	pebblecheckpoint "github.com/JakeFAU/icrawler/internal/checkpoint/pebble"
	"github.com/JakeFAU/icrawler/internal/config"
)

// OpenStore opens the checkpoint store selected by cfg. Corrupt entries are
// logged and discarded by the store.
func OpenStore(cfg config.CheckpointConfig, logger *zap.Logger) (*checkpoint.JSONStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var backend checkpoint.Backend
	switch cfg.Backend {
	case config.BackendMemory:
		backend = memorycheckpoint.New()
	case config.BackendPebble:
		b, err := pebblecheckpoint.Open(pebblecheckpoint.Config{Dir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open pebble checkpoints: %w", err)
		}
		backend = b
	case config.BackendLocal, "":
		b, err := localcheckpoint.New(localcheckpoint.Config{Dir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open local checkpoints: %w", err)
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
	logger.Info("checkpoint store opened", zap.String("backend", cfg.Backend), zap.String("dir", cfg.Dir))
	return checkpoint.NewStore(backend, func(key string, err error) {
		logger.Warn("discarding corrupt checkpoint", zap.String("key", key), zap.Error(err))
	}), nil
}
