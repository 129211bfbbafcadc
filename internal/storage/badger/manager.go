package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	items   interfaces.ItemStorage
	cookies interfaces.CookieStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		items:   NewItemStorage(db, logger),
		cookies: NewCookieStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// ItemStorage returns the generation item storage
func (m *Manager) ItemStorage() interfaces.ItemStorage {
	return m.items
}

// CookieStorage returns the cookie set storage
func (m *Manager) CookieStorage() interfaces.CookieStorage {
	return m.cookies
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
