package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ItemStorage implements interfaces.ItemStorage for Badger
type ItemStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewItemStorage creates a new ItemStorage instance
func NewItemStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ItemStorage {
	return &ItemStorage{
		db:     db,
		logger: logger,
	}
}

// SaveItem inserts or replaces item
func (s *ItemStorage) SaveItem(ctx context.Context, item *models.GenerationItem) error {
	if item.ID == "" {
		return fmt.Errorf("item ID is required")
	}
	if err := s.db.Store().Upsert(item.ID, item); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// GetItem returns interfaces.ErrItemNotFound for unknown ids
func (s *ItemStorage) GetItem(ctx context.Context, id string) (*models.GenerationItem, error) {
	var item models.GenerationItem
	err := s.db.Store().Get(id, &item)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// ListItems returns every item in insertion order
func (s *ItemStorage) ListItems(ctx context.Context) ([]*models.GenerationItem, error) {
	var items []models.GenerationItem
	if err := s.db.Store().Find(&items, badgerhold.Where("ID").Ne("").SortBy("Sequence")); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	result := make([]*models.GenerationItem, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

// DeleteItem removes id; deleting an unknown id is not an error
func (s *ItemStorage) DeleteItem(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.GenerationItem{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// DeleteAllItems removes every item
func (s *ItemStorage) DeleteAllItems(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&models.GenerationItem{}, nil); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	s.logger.Debug().Msg("All queue items deleted")
	return nil
}
