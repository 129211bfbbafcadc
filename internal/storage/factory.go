package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/storage/badger"
)

// NewStorageManager creates the storage manager described by config.
// It returns nil, nil when persistence is disabled.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if !config.Storage.Badger.Enabled {
		logger.Info().Msg("Persistence disabled, queue is held in memory")
		return nil, nil
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
