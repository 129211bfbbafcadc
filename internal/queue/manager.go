// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 10:12:37 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

// InterruptedError is recorded on items found processing when the queue is restored
const InterruptedError = "interrupted: process stopped during generation"

// Options tunes the drain loop
type Options struct {
	// SubmitInterval spaces consecutive generator calls. Zero disables pacing.
	SubmitInterval time.Duration
	// ItemTimeout bounds a single generator call. Zero leaves it to the generator.
	ItemTimeout time.Duration
}

// NewOptions builds Options from the [queue] config section
func NewOptions(cfg *common.QueueConfig) Options {
	return Options{
		SubmitInterval: common.ParseDuration(cfg.SubmitInterval, 0),
		ItemTimeout:    common.ParseDuration(cfg.ItemTimeout, 0),
	}
}

// effect is the storage and event side of one mutation.
// Effects are applied in the order their mutations took the lock.
type effect struct {
	deleteAll bool
	deletes   []string
	saves     []models.GenerationItem
	events    []interfaces.Event
}

// Manager is the generation queue.
// It owns the ordered item collection and hands queued items to the generator
// one at a time from a single drain goroutine.
type Manager struct {
	generator    interfaces.Generator
	eventService interfaces.EventService
	storage      interfaces.ItemStorage
	limiter      *rate.Limiter
	itemTimeout  time.Duration
	logger       arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []*models.GenerationItem
	sequence int64
	version  uint64 // bumped on every published state change
	paused   bool
	draining bool   // a drain goroutine exists
	inFlight string // id of the item currently handed to the generator
	held     int    // active WhileIdle calls; the drain loop does not start while positive
	closed   bool
	changed  chan struct{}
	outbox   []effect
	flushing bool // a goroutine is applying the outbox
}

var _ interfaces.QueueService = (*Manager)(nil)

// NewManager creates a paused queue. storage may be nil for an in-memory queue.
func NewManager(generator interfaces.Generator, eventService interfaces.EventService, storage interfaces.ItemStorage, opts Options, logger arbor.ILogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		generator:    generator,
		eventService: eventService,
		storage:      storage,
		itemTimeout:  opts.ItemTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		paused:       true,
		changed:      make(chan struct{}),
	}
	if opts.SubmitInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(opts.SubmitInterval), 1)
	}
	return m
}

// Restore reloads persisted items in insertion order.
// Items left processing by a previous run are marked failed.
func (m *Manager) Restore(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}

	items, err := m.storage.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue items: %w", err)
	}

	var interrupted []*models.GenerationItem
	now := time.Now()

	m.mu.Lock()
	m.items = items
	for _, item := range items {
		if item.Sequence > m.sequence {
			m.sequence = item.Sequence
		}
		if item.Status == models.GenerationStatusProcessing {
			item.Status = models.GenerationStatusFailed
			item.Error = InterruptedError
			item.CompletedAt = &now
			interrupted = append(interrupted, item)
		}
	}
	status := m.statusChangedLocked()
	m.emitLocked(effect{saves: cloneAll(interrupted), events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().
		Int("items", len(items)).
		Int("interrupted", len(interrupted)).
		Msg("Generation queue restored")
	return nil
}

// AddPrompts appends one queued item per prompt in input order.
// Prompts are taken as given; an empty list is a no-op.
func (m *Manager) AddPrompts(prompts []string) []models.GenerationItem {
	if len(prompts) == 0 {
		return []models.GenerationItem{}
	}

	m.mu.Lock()
	added := make([]*models.GenerationItem, 0, len(prompts))
	for _, prompt := range prompts {
		m.sequence++
		item := models.NewGenerationItem(prompt, m.sequence)
		m.items = append(m.items, item)
		added = append(added, item)
	}
	created := cloneAll(added)
	m.kickLocked()
	status := m.statusChangedLocked()
	m.emitLocked(effect{saves: created, events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().Int("count", len(created)).Msg("Prompts added to queue")
	return created
}

// Start clears the paused flag and begins draining
func (m *Manager) Start() {
	m.unpause("Queue started")
}

// Resume clears the paused flag and restarts draining if the loop is idle
func (m *Manager) Resume() {
	m.unpause("Queue resumed")
}

func (m *Manager) unpause(msg string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.paused = false
	m.kickLocked()
	status := m.statusChangedLocked()
	m.emitLocked(effect{events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().Int("queued", status.Queued).Msg(msg)
}

// Pause stops the queue from starting the next item.
// An item already processing runs to completion or failure.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	status := m.statusChangedLocked()
	m.emitLocked(effect{events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().Bool("in_flight", status.Processing > 0).Msg("Queue paused")
}

// ClearCompleted removes completed items. Failed items are kept.
func (m *Manager) ClearCompleted() {
	m.mu.Lock()
	var removed []string
	kept := m.items[:0]
	for _, item := range m.items {
		if item.Status == models.GenerationStatusCompleted {
			removed = append(removed, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(m.items); i++ {
		m.items[i] = nil
	}
	m.items = kept
	status := m.statusChangedLocked()
	m.emitLocked(effect{deletes: removed, events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().Int("removed", len(removed)).Msg("Completed items cleared")
}

// ClearAll cancels the in-flight item, if any, and empties the queue.
// The outstanding generator call is not interrupted; its result is discarded.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	var cancelled string
	if m.inFlight != "" {
		if item := m.findLocked(m.inFlight); item != nil && item.Status == models.GenerationStatusProcessing {
			item.Status = models.GenerationStatusCancelled
			cancelled = item.ID
		}
	}
	count := len(m.items)
	m.items = nil
	m.inFlight = ""
	status := m.statusChangedLocked()
	m.emitLocked(effect{deleteAll: true, events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().
		Int("removed", count).
		Str("cancelled_item", cancelled).
		Msg("Queue cleared")
}

// RetryFailed re-queues every failed item in place
func (m *Manager) RetryFailed() {
	m.mu.Lock()
	var retried []*models.GenerationItem
	for _, item := range m.items {
		if item.Status == models.GenerationStatusFailed {
			requeue(item)
			retried = append(retried, item)
		}
	}
	if len(retried) == 0 {
		m.mu.Unlock()
		return
	}
	saves := cloneAll(retried)
	m.kickLocked()
	status := m.statusChangedLocked()
	m.emitLocked(effect{saves: saves, events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().Int("count", len(saves)).Msg("Failed items re-queued")
}

// RetryItem re-queues a single failed item. It reports false if id is unknown or not failed.
func (m *Manager) RetryItem(id string) bool {
	m.mu.Lock()
	item := m.findLocked(id)
	if item == nil || item.Status != models.GenerationStatusFailed {
		m.mu.Unlock()
		return false
	}
	requeue(item)
	saved := item.Clone()
	m.kickLocked()
	status := m.statusChangedLocked()
	m.emitLocked(effect{saves: []models.GenerationItem{saved}, events: []interfaces.Event{updateEvent(status)}})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().
		Str("item_id", id).
		Int("retry_count", saved.RetryCount).
		Msg("Item re-queued")
	return true
}

// GetStatus returns a snapshot recomputed from the item collection
func (m *Manager) GetStatus() models.QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// GetItem returns a copy of the item with id
func (m *Manager) GetItem(id string) (models.GenerationItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.findLocked(id)
	if item == nil {
		return models.GenerationItem{}, false
	}
	return item.Clone(), true
}

// Subscribe registers handler for a queue event kind
func (m *Manager) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) func() {
	return m.eventService.Subscribe(eventType, handler)
}

// IsDraining reports whether a generator call may be outstanding
func (m *Manager) IsDraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// WhileIdle runs fn while no generator call can be outstanding. It returns
// interfaces.ErrQueueDraining without calling fn if the drain loop is active.
// Start, Resume and retries made while fn runs take effect when it returns.
func (m *Manager) WhileIdle(fn func() error) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return interfaces.ErrQueueDraining
	}
	m.held++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.held--
		m.kickLocked()
		m.notifyLocked()
		m.mu.Unlock()
	}()
	return fn()
}

// WaitIdle blocks until the drain loop has stopped, every event has been
// delivered and nothing more will start without another control call.
func (m *Manager) WaitIdle(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := !m.draining && !m.flushing && len(m.outbox) == 0 &&
			(m.paused || m.nextQueuedLocked() == nil)
		changed := m.changed
		m.mu.Unlock()

		if idle {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the drain loop. The in-flight generator call sees its context cancelled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.paused = true
	m.notifyLocked()
	m.mu.Unlock()

	m.cancel()
	m.logger.Debug().Msg("Generation queue closed")
	return nil
}

// kickLocked spawns the drain goroutine unless one exists or there is nothing to do
func (m *Manager) kickLocked() {
	if m.draining || !m.claimableLocked() {
		return
	}
	m.draining = true
	go m.drain()
}

func (m *Manager) claimableLocked() bool {
	return !m.paused && !m.closed && m.held == 0 && m.nextQueuedLocked() != nil
}

// drain is the only caller of the generator.
// claimNext clears the draining flag under the same lock that finds no work.
func (m *Manager) drain() {
	defer common.Recover(m.logger, "queue drain")
	exited := false
	defer func() {
		if !exited {
			m.mu.Lock()
			m.exitLocked()
			m.mu.Unlock()
		}
	}()

	for {
		item, ok := m.claimNext()
		if !ok {
			exited = true
			return
		}
		m.process(item)
	}
}

func (m *Manager) exitLocked() {
	m.draining = false
	m.inFlight = ""
	m.notifyLocked()
}

// claimNext marks the first queued item processing and returns a copy of it.
// When it reports false the drain loop has already been marked stopped.
func (m *Manager) claimNext() (models.GenerationItem, bool) {
	if m.limiter != nil {
		m.mu.Lock()
		if !m.claimableLocked() {
			m.exitLocked()
			m.mu.Unlock()
			return models.GenerationItem{}, false
		}
		m.mu.Unlock()
		if err := m.limiter.Wait(m.ctx); err != nil {
			m.mu.Lock()
			m.exitLocked()
			m.mu.Unlock()
			return models.GenerationItem{}, false
		}
	}

	m.mu.Lock()
	if !m.claimableLocked() {
		m.exitLocked()
		m.mu.Unlock()
		return models.GenerationItem{}, false
	}
	item := m.nextQueuedLocked()
	now := time.Now()
	item.Status = models.GenerationStatusProcessing
	item.StartedAt = &now
	item.CompletedAt = nil
	m.inFlight = item.ID
	claimed := item.Clone()
	status := m.statusChangedLocked()
	m.emitLocked(effect{
		saves: []models.GenerationItem{claimed},
		events: []interfaces.Event{
			updateEvent(status),
			{Type: interfaces.EventItemStart, Payload: claimed},
		},
	})
	m.mu.Unlock()
	m.flush()

	m.logger.Info().
		Str("item_id", claimed.ID).
		Int("retry_count", claimed.RetryCount).
		Msg("Generation started")
	return claimed, true
}

func (m *Manager) process(item models.GenerationItem) {
	ctx := m.ctx
	cancel := context.CancelFunc(func() {})
	if m.itemTimeout > 0 {
		ctx, cancel = context.WithTimeout(m.ctx, m.itemTimeout)
	}
	path, err := m.generate(ctx, item)
	cancel()

	if err == nil && path == "" {
		err = errors.New("generator returned no artifact path")
	}

	m.mu.Lock()
	if m.inFlight == item.ID {
		m.inFlight = ""
	}
	current := m.findLocked(item.ID)
	if current == nil || current.Status != models.GenerationStatusProcessing {
		m.notifyLocked()
		m.mu.Unlock()
		m.logger.Info().Str("item_id", item.ID).Msg("Discarding result for cleared item")
		return
	}

	now := time.Now()
	current.CompletedAt = &now
	eventType := interfaces.EventItemComplete
	if err != nil {
		current.Status = models.GenerationStatusFailed
		current.Error = err.Error()
		eventType = interfaces.EventItemFail
	} else {
		current.Status = models.GenerationStatusCompleted
		current.ArtifactPath = path
	}
	finished := current.Clone()
	status := m.statusChangedLocked()
	m.emitLocked(effect{
		saves: []models.GenerationItem{finished},
		events: []interfaces.Event{
			{Type: eventType, Payload: finished},
			updateEvent(status),
		},
	})
	m.mu.Unlock()
	m.flush()

	if err != nil {
		m.logger.Warn().
			Str("item_id", finished.ID).
			Dur("duration", finished.Duration()).
			Str("error", finished.Error).
			Msg("Generation failed")
	} else {
		m.logger.Info().
			Str("item_id", finished.ID).
			Dur("duration", finished.Duration()).
			Str("artifact_path", finished.ArtifactPath).
			Msg("Generation completed")
	}
}

// generate converts a generator panic into an item failure
func (m *Manager) generate(ctx context.Context, item models.GenerationItem) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return m.generator.Generate(ctx, item)
}

func (m *Manager) emitLocked(e effect) {
	m.outbox = append(m.outbox, e)
}

// flush applies the outbox unless another goroutine already is. Effects queued
// while flushing, including by event handlers that call back into the queue,
// are picked up by the goroutine that is flushing.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()
		for _, e := range batch {
			m.apply(e)
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) apply(e effect) {
	defer common.Recover(m.logger, "queue effect")

	if m.storage != nil {
		if e.deleteAll {
			if err := m.storage.DeleteAllItems(m.ctx); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to delete queue items")
			}
		}
		for _, id := range e.deletes {
			if err := m.storage.DeleteItem(m.ctx, id); err != nil {
				m.logger.Warn().Err(err).Str("item_id", id).Msg("Failed to delete cleared item")
			}
		}
		for i := range e.saves {
			if err := m.storage.SaveItem(m.ctx, &e.saves[i]); err != nil {
				m.logger.Warn().Err(err).Str("item_id", e.saves[i].ID).Msg("Failed to persist queue item")
			}
		}
	}

	if m.eventService == nil {
		return
	}
	for _, event := range e.events {
		if err := m.eventService.Publish(context.Background(), event); err != nil {
			m.logger.Debug().Err(err).Str("event_type", string(event.Type)).Msg("Event handler error")
		}
	}
}

func updateEvent(status models.QueueStatus) interfaces.Event {
	return interfaces.Event{Type: interfaces.EventQueueUpdate, Payload: status}
}

// statusChangedLocked records a state change and returns the snapshot to publish
func (m *Manager) statusChangedLocked() models.QueueStatus {
	m.version++
	m.notifyLocked()
	return m.statusLocked()
}

func (m *Manager) statusLocked() models.QueueStatus {
	status := models.NewQueueStatus(m.items, m.paused, m.draining)
	status.Version = m.version
	return status
}

func (m *Manager) nextQueuedLocked() *models.GenerationItem {
	for _, item := range m.items {
		if item.Status == models.GenerationStatusQueued {
			return item
		}
	}
	return nil
}

func (m *Manager) findLocked(id string) *models.GenerationItem {
	for _, item := range m.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// notifyLocked wakes WaitIdle callers
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func requeue(item *models.GenerationItem) {
	item.Status = models.GenerationStatusQueued
	item.Error = ""
	item.StartedAt = nil
	item.CompletedAt = nil
	item.RetryCount++
}

func cloneAll(items []*models.GenerationItem) []models.GenerationItem {
	out := make([]models.GenerationItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
