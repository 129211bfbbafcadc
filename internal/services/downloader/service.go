package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

var (
	// ErrInvalidURL is returned for anything other than an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid download url")
	// ErrCancelled is recorded when Cancel stops a running download
	ErrCancelled = errors.New("download cancelled")
)

// Service tracks extractor downloads and publishes their progress
type Service struct {
	runner       Runner
	eventService interfaces.EventService
	outputDir    string
	logger       arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	items  map[string]*models.DownloadItem
	order  []string
	active map[string]context.CancelFunc
}

var _ interfaces.DownloadService = (*Service)(nil)

// NewService creates a download service. An empty outputDir resolves to ~/Downloads.
func NewService(runner Runner, eventService interfaces.EventService, outputDir string, logger arbor.ILogger) *Service {
	if outputDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			outputDir = filepath.Join(home, "Downloads")
		} else {
			outputDir = "."
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:       runner,
		eventService: eventService,
		outputDir:    outputDir,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		items:        make(map[string]*models.DownloadItem),
		active:       make(map[string]context.CancelFunc),
	}
}

// OutputDir returns the directory downloads are written to
func (s *Service) OutputDir() string {
	return s.outputDir
}

// Download runs one download to completion and returns its final state
func (s *Service) Download(ctx context.Context, rawURL string) (*models.DownloadItem, error) {
	item, runCtx, err := s.register(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	err = s.run(runCtx, item.ID)
	final, _ := s.get(item.ID)
	return &final, err
}

// Enqueue starts a download in the background and returns its initial state
func (s *Service) Enqueue(ctx context.Context, rawURL string) (*models.DownloadItem, error) {
	item, runCtx, err := s.register(s.ctx, rawURL)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer common.Recover(s.logger, "download "+item.ID)
		_ = s.run(runCtx, item.ID)
	}()
	return &item, nil
}

// Cancel stops a running download. It reports false if id is not running.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.active[id]
	if ok {
		s.items[id].Status = models.DownloadStatusCancelled
		delete(s.active, id)
	}
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.Info().Str("download_id", id).Msg("Download cancelled")
	}
	return ok
}

// List returns every download in creation order
func (s *Service) List() []models.DownloadItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DownloadItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// Get returns a copy of the download with id
func (s *Service) Get(id string) (models.DownloadItem, bool) {
	return s.get(id)
}

// Close cancels running downloads and waits for them to stop
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) register(parent context.Context, rawURL string) (models.DownloadItem, context.Context, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.DownloadItem{}, nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	item := &models.DownloadItem{
		ID:        common.NewDownloadID(),
		URL:       rawURL,
		Status:    models.DownloadStatusQueued,
		CreatedAt: time.Now(),
	}
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.items[item.ID] = item
	s.order = append(s.order, item.ID)
	s.active[item.ID] = cancel
	snapshot := *item
	s.mu.Unlock()

	return snapshot, ctx, nil
}

func (s *Service) run(ctx context.Context, id string) error {
	item, _ := s.get(id)

	info, err := s.runner.Info(ctx, item.URL)
	if err != nil {
		return s.fail(id, err)
	}

	title := info.Title
	if title == "" {
		title = "Unknown Video"
	}
	output := filepath.Join(s.outputDir, SanitizeTitle(title)+".mp4")
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return s.fail(id, fmt.Errorf("failed to create output directory: %w", err))
	}

	s.update(id, func(d *models.DownloadItem) {
		d.Title = title
		d.Thumbnail = info.Thumbnail
		d.Duration = FormatDuration(info.Duration)
		d.Status = models.DownloadStatusDownloading
	})
	s.publish(interfaces.EventDownloadProgress, models.DownloadProgress{ID: id, Progress: 0, Title: title})

	s.logger.Info().
		Str("download_id", id).
		Str("title", title).
		Str("output", output).
		Msg("Download started")

	last := 0
	err = s.runner.Fetch(ctx, item.URL, output, func(percent int) {
		if percent == last {
			return
		}
		last = percent
		s.update(id, func(d *models.DownloadItem) { d.Progress = percent })
		s.publish(interfaces.EventDownloadProgress, models.DownloadProgress{ID: id, Progress: percent, Title: title})
	})
	if err != nil {
		return s.fail(id, err)
	}

	var completed models.DownloadItem
	s.update(id, func(d *models.DownloadItem) {
		d.Status = models.DownloadStatusCompleted
		d.Progress = 100
		d.FilePath = output
		completed = *d
	})
	s.finish(id)

	s.logger.Info().Str("download_id", id).Str("file_path", output).Msg("Download completed")
	s.publish(interfaces.EventDownloadComplete, completed)
	return nil
}

func (s *Service) fail(id string, err error) error {
	cancelled := false
	var failed models.DownloadItem
	s.update(id, func(d *models.DownloadItem) {
		if d.Status == models.DownloadStatusCancelled {
			cancelled = true
			d.Error = ErrCancelled.Error()
		} else {
			d.Status = models.DownloadStatusFailed
			d.Error = err.Error()
		}
		failed = *d
	})
	s.finish(id)

	if cancelled {
		err = ErrCancelled
	}
	s.logger.Warn().Err(err).Str("download_id", id).Msg("Download failed")
	s.publish(interfaces.EventDownloadError, failed)
	return err
}

func (s *Service) finish(id string) {
	s.mu.Lock()
	cancel, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) get(id string) (models.DownloadItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return models.DownloadItem{}, false
	}
	return *item, true
}

func (s *Service) update(id string, fn func(*models.DownloadItem)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		fn(item)
	}
}

func (s *Service) publish(eventType interfaces.EventType, payload interface{}) {
	if s.eventService == nil {
		return
	}
	if err := s.eventService.Publish(s.ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event handler error")
	}
}
