// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 9:45:05 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/flowqueue/internal/models"
)

// ErrItemNotFound is returned by ItemStorage.GetItem for unknown ids
var ErrItemNotFound = errors.New("item not found")

// ItemStorage persists generation items
type ItemStorage interface {
	SaveItem(ctx context.Context, item *models.GenerationItem) error
	GetItem(ctx context.Context, id string) (*models.GenerationItem, error)
	// ListItems returns every item ordered by Sequence
	ListItems(ctx context.Context) ([]*models.GenerationItem, error)
	DeleteItem(ctx context.Context, id string) error
	DeleteAllItems(ctx context.Context) error
}

// CookieStorage persists the single imported cookie set
type CookieStorage interface {
	SaveCookies(ctx context.Context, set *models.CookieSet) error
	// LoadCookies returns nil, nil when nothing has been imported
	LoadCookies(ctx context.Context) (*models.CookieSet, error)
	DeleteCookies(ctx context.Context) error
}

// StorageManager owns the storage backend
type StorageManager interface {
	ItemStorage() ItemStorage
	CookieStorage() CookieStorage
	Close() error
}
