package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Only one credential is held at a time
const currentCookieKey = "current"

// cookieRecord is the persisted form of the imported cookie set
type cookieRecord struct {
	Key        string `badgerhold:"key"`
	Cookies    []models.Cookie
	ImportedAt time.Time
}

// CookieStorage implements interfaces.CookieStorage for Badger
type CookieStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCookieStorage creates a new CookieStorage instance
func NewCookieStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CookieStorage {
	return &CookieStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCookies replaces the stored cookie set
func (s *CookieStorage) SaveCookies(ctx context.Context, set *models.CookieSet) error {
	if set == nil {
		return fmt.Errorf("cookie set is required")
	}
	record := cookieRecord{
		Key:        currentCookieKey,
		Cookies:    set.Cookies,
		ImportedAt: set.ImportedAt,
	}
	if err := s.db.Store().Upsert(currentCookieKey, &record); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	s.logger.Debug().Int("count", len(set.Cookies)).Msg("Cookie set saved")
	return nil
}

// LoadCookies returns nil, nil when no cookie set has been saved
func (s *CookieStorage) LoadCookies(ctx context.Context) (*models.CookieSet, error) {
	var record cookieRecord
	err := s.db.Store().Get(currentCookieKey, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}
	return &models.CookieSet{Cookies: record.Cookies, ImportedAt: record.ImportedAt}, nil
}

// DeleteCookies removes the stored cookie set
func (s *CookieStorage) DeleteCookies(ctx context.Context) error {
	err := s.db.Store().Delete(currentCookieKey, &cookieRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete cookies: %w", err)
	}
	return nil
}
