package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

var (
	// ErrInvalidJSON is returned when the import is not parseable JSON
	ErrInvalidJSON = errors.New("invalid JSON format")
	// ErrInvalidFormat is returned when the JSON is not a non-empty array of cookies with name and value
	ErrInvalidFormat = errors.New("invalid cookie format: expected array of cookie objects")
	// ErrNoRelevantCookies is returned when no cookie belongs to an authentication domain
	ErrNoRelevantCookies = errors.New("no cookies for the authentication domains found")
)

// Service imports, filters and holds the session credential
type Service struct {
	storage  interfaces.CookieStorage
	domains  []string
	validate *validator.Validate
	logger   arbor.ILogger
	now      func() time.Time

	mu      sync.RWMutex
	current *models.CookieSet
}

// NewService creates a cookie service. storage may be nil for an in-memory credential.
func NewService(storage interfaces.CookieStorage, domains []string, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		domains:  domains,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Parse decodes a cookie export and keeps only the authentication-domain cookies
func (s *Service) Parse(data []byte) ([]models.Cookie, error) {
	var raw []models.Cookie
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if len(raw) == 0 {
		return nil, ErrInvalidFormat
	}
	for i := range raw {
		if err := s.validate.Struct(raw[i]); err != nil {
			return nil, fmt.Errorf("%w: cookie %d: %v", ErrInvalidFormat, i, err)
		}
	}

	relevant := FilterByDomain(raw, s.domains)
	if len(relevant) == 0 {
		return nil, ErrNoRelevantCookies
	}
	return relevant, nil
}

// Import parses data and replaces the current credential
func (s *Service) Import(ctx context.Context, data []byte) (*models.CookieSet, error) {
	cookies, err := s.Parse(data)
	if err != nil {
		return nil, err
	}

	set := &models.CookieSet{Cookies: cookies, ImportedAt: s.now()}

	if s.storage != nil {
		if err := s.storage.SaveCookies(ctx, set); err != nil {
			return nil, fmt.Errorf("failed to persist cookies: %w", err)
		}
	}

	s.mu.Lock()
	s.current = set
	s.mu.Unlock()

	s.logger.Info().
		Int("cookies", len(cookies)).
		Bool("valid", set.IsValid(s.now())).
		Str("expires_in", set.ExpiryDisplay(s.now())).
		Msg("Cookies imported")

	return set, nil
}

// ImportFile reads a cookie export from disk and imports it
func (s *Service) ImportFile(ctx context.Context, path string) (*models.CookieSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file %s: %w", path, err)
	}
	return s.Import(ctx, data)
}

// Load restores the last imported credential from storage
func (s *Service) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	set, err := s.storage.LoadCookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cookies: %w", err)
	}
	if set == nil {
		return nil
	}

	s.mu.Lock()
	s.current = set
	s.mu.Unlock()

	s.logger.Debug().Int("cookies", set.Len()).Msg("Restored stored cookies")
	return nil
}

// Current returns the active credential, or nil if none has been imported
func (s *Service) Current() *models.CookieSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Status summarizes the active credential. Validity is evaluated at call time.
func (s *Service) Status() models.CookieStatus {
	set := s.Current()
	now := s.now()

	status := models.CookieStatus{
		Count:     set.Len(),
		Valid:     set.IsValid(now),
		ExpiresIn: set.ExpiryDisplay(now),
	}
	if expiresAt, ok := set.ExpiresAt(now); ok {
		status.ExpiresAt = &expiresAt
	}
	if set != nil {
		importedAt := set.ImportedAt
		status.ImportedAt = &importedAt
	}
	return status
}

// Clear drops the active credential
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if s.storage != nil {
		if err := s.storage.DeleteCookies(ctx); err != nil {
			return fmt.Errorf("failed to delete stored cookies: %w", err)
		}
	}
	s.logger.Info().Msg("Cookies cleared")
	return nil
}

// FilterByDomain keeps cookies whose domain contains one of domains
func FilterByDomain(cookies []models.Cookie, domains []string) []models.Cookie {
	filtered := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Domain != "" && c.MatchesDomain(domains) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
