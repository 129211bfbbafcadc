package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/ternarybob/flowqueue/internal/services/automation"
	"github.com/ternarybob/flowqueue/internal/services/events"
)

type outcome struct {
	path string
	err  error
}

// blockingGenerator hands each call to the test and waits for its outcome
type blockingGenerator struct {
	started   chan models.GenerationItem
	results   chan outcome
	active    atomic.Int32
	maxActive atomic.Int32
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{
		started: make(chan models.GenerationItem, 16),
		results: make(chan outcome),
	}
}

func (g *blockingGenerator) Generate(ctx context.Context, item models.GenerationItem) (string, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		max := g.maxActive.Load()
		if n <= max || g.maxActive.CompareAndSwap(max, n) {
			break
		}
	}

	g.started <- item
	select {
	case r := <-g.results:
		return r.path, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *blockingGenerator) awaitStart(t *testing.T) models.GenerationItem {
	t.Helper()
	select {
	case item := <-g.started:
		return item
	case <-time.After(2 * time.Second):
		require.FailNow(t, "generator was not called")
		return models.GenerationItem{}
	}
}

func (g *blockingGenerator) assertNotStarted(t *testing.T) {
	t.Helper()
	select {
	case item := <-g.started:
		require.FailNow(t, "unexpected generator call", "prompt %q", item.Prompt)
	case <-time.After(50 * time.Millisecond):
	}
}

type memoryItemStorage struct {
	mu    sync.Mutex
	items map[string]models.GenerationItem
}

func newMemoryItemStorage() *memoryItemStorage {
	return &memoryItemStorage{items: make(map[string]models.GenerationItem)}
}

func (s *memoryItemStorage) SaveItem(ctx context.Context, item *models.GenerationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *memoryItemStorage) GetItem(ctx context.Context, id string) (*models.GenerationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, interfaces.ErrItemNotFound
	}
	return &item, nil
}

func (s *memoryItemStorage) ListItems(ctx context.Context) ([]*models.GenerationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*models.GenerationItem, 0, len(s.items))
	for _, item := range s.items {
		c := item.Clone()
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
	return items, nil
}

func (s *memoryItemStorage) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memoryItemStorage) DeleteAllItems(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]models.GenerationItem)
	return nil
}

func (s *memoryItemStorage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newTestManager(t *testing.T, generator interfaces.Generator, storage interfaces.ItemStorage, opts Options) (*Manager, *events.Service) {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	eventService := events.NewService(logger)
	m := NewManager(generator, eventService, storage, opts, logger)
	t.Cleanup(func() {
		_ = m.Close()
		_ = eventService.Close()
	})
	return m, eventService
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func succeed(path string) interfaces.GeneratorFunc {
	return func(ctx context.Context, item models.GenerationItem) (string, error) {
		return path, nil
	}
}

func TestManager_StartsPaused(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	items := m.AddPrompts([]string{"a cat video"})
	require.Len(t, items, 1)

	gen.assertNotStarted(t)
	status := m.GetStatus()
	assert.True(t, status.IsPaused)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.Queued)
}

func TestManager_AddPromptsPreservesOrder(t *testing.T) {
	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	items := m.AddPrompts([]string{"first", "second"})
	more := m.AddPrompts([]string{"third"})

	require.Len(t, items, 2)
	require.Len(t, more, 1)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.Equal(t, models.GenerationStatusQueued, items[0].Status)

	status := m.GetStatus()
	require.Len(t, status.Items, 3)
	assert.Equal(t, "first", status.Items[0].Prompt)
	assert.Equal(t, "second", status.Items[1].Prompt)
	assert.Equal(t, "third", status.Items[2].Prompt)
	assert.Less(t, status.Items[1].Sequence, status.Items[2].Sequence)
}

func TestManager_EmptyPromptsAreNoOp(t *testing.T) {
	m, eventService := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	var updates atomic.Int32
	eventService.Subscribe(interfaces.EventQueueUpdate, func(ctx context.Context, event interfaces.Event) error {
		updates.Add(1)
		return nil
	})

	assert.Empty(t, m.AddPrompts(nil))
	assert.Empty(t, m.AddPrompts([]string{}))
	assert.Equal(t, int32(0), updates.Load())
	assert.Equal(t, 0, m.GetStatus().Total)
}

func TestManager_AddPromptsCreatesOneItemPerInput(t *testing.T) {
	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	items := m.AddPrompts([]string{"", "  a cat  "})
	require.Len(t, items, 2)
	assert.Equal(t, "", items[0].Prompt)
	assert.Equal(t, "  a cat  ", items[1].Prompt)
	assert.Equal(t, 2, m.GetStatus().Queued)
}

func TestManager_ProcessesInInsertionOrder(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	m.AddPrompts([]string{"A", "B", "C"})
	m.Start()

	var order []string
	for i := 0; i < 3; i++ {
		item := gen.awaitStart(t)
		order = append(order, item.Prompt)
		gen.results <- outcome{path: "/tmp/" + item.Prompt + ".mp4"}
	}
	waitIdle(t, m)

	assert.Equal(t, []string{"A", "B", "C"}, order)
	status := m.GetStatus()
	assert.Equal(t, 3, status.Completed)
	assert.Equal(t, "/tmp/B.mp4", status.Items[1].ArtifactPath)
}

func TestManager_NeverMoreThanOneInFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			max := maxActive.Load()
			if n <= max || maxActive.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return "/tmp/" + item.ID + ".mp4", nil
	})
	m, eventService := newTestManager(t, generator, nil, Options{})

	var maxProcessing atomic.Int32
	eventService.Subscribe(interfaces.EventQueueUpdate, func(ctx context.Context, event interfaces.Event) error {
		status := event.Payload.(models.QueueStatus)
		if int32(status.Processing) > maxProcessing.Load() {
			maxProcessing.Store(int32(status.Processing))
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddPrompts([]string{fmt.Sprintf("prompt %d", i)})
			m.Start()
			m.Resume()
		}(i)
	}
	wg.Wait()
	waitIdle(t, m)

	assert.Equal(t, int32(1), maxActive.Load())
	assert.LessOrEqual(t, maxProcessing.Load(), int32(1))
	assert.Equal(t, 8, m.GetStatus().Completed)
}

func TestManager_PauseDoesNotAbortInFlightItem(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	items := m.AddPrompts([]string{"A", "B"})
	m.Start()
	gen.awaitStart(t)

	m.Pause()
	status := m.GetStatus()
	assert.True(t, status.IsPaused)
	assert.Equal(t, 1, status.Processing)
	current, ok := m.GetItem(items[0].ID)
	require.True(t, ok)
	assert.Equal(t, models.GenerationStatusProcessing, current.Status)

	gen.results <- outcome{path: "/tmp/a.mp4"}
	waitIdle(t, m)
	gen.assertNotStarted(t)

	first, _ := m.GetItem(items[0].ID)
	second, _ := m.GetItem(items[1].ID)
	assert.Equal(t, models.GenerationStatusCompleted, first.Status)
	assert.Equal(t, models.GenerationStatusQueued, second.Status)

	m.Resume()
	assert.Equal(t, "B", gen.awaitStart(t).Prompt)
	gen.results <- outcome{path: "/tmp/b.mp4"}
	waitIdle(t, m)
	assert.Equal(t, 2, m.GetStatus().Completed)
}

func TestManager_RetryItemResetsFailure(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	items := m.AddPrompts([]string{"A"})
	m.Start()
	gen.awaitStart(t)
	gen.results <- outcome{err: errors.New("quota exceeded")}
	waitIdle(t, m)

	failed, _ := m.GetItem(items[0].ID)
	require.Equal(t, models.GenerationStatusFailed, failed.Status)
	assert.Equal(t, "quota exceeded", failed.Error)
	assert.Empty(t, failed.ArtifactPath)
	assert.NotNil(t, failed.CompletedAt)

	m.Pause()
	require.True(t, m.RetryItem(items[0].ID))

	retried, _ := m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusQueued, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Equal(t, failed.RetryCount+1, retried.RetryCount)
	assert.Nil(t, retried.StartedAt)

	assert.False(t, m.RetryItem(items[0].ID), "queued items are not retryable")
	assert.False(t, m.RetryItem("gen_missing"))
}

func TestManager_RetryResumesDrainingWhenRunning(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	m.AddPrompts([]string{"A"})
	m.Start()
	gen.awaitStart(t)
	gen.results <- outcome{err: errors.New("boom")}
	waitIdle(t, m)

	m.RetryFailed()
	retried := gen.awaitStart(t)
	assert.Equal(t, 1, retried.RetryCount)
	gen.results <- outcome{path: "/tmp/a.mp4"}
	waitIdle(t, m)

	status := m.GetStatus()
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 1, status.Items[0].RetryCount)
}

func TestManager_ClearCompletedKeepsFailed(t *testing.T) {
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		if strings.HasPrefix(item.Prompt, "fail") {
			return "", errors.New(item.Prompt + " rejected")
		}
		return "/tmp/" + item.Prompt + ".mp4", nil
	})
	m, _ := newTestManager(t, generator, nil, Options{})

	m.AddPrompts([]string{"ok1", "fail1", "ok2", "fail2"})
	m.Start()
	waitIdle(t, m)

	var failedBefore []models.GenerationItem
	for _, item := range m.GetStatus().Items {
		if item.Status == models.GenerationStatusFailed {
			failedBefore = append(failedBefore, item)
		}
	}
	require.Len(t, failedBefore, 2)

	m.ClearCompleted()

	status := m.GetStatus()
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, failedBefore, status.Items)
}

func TestManager_ClearAllDiscardsInFlightResult(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	first := m.AddPrompts([]string{"A", "B"})
	m.Start()
	gen.awaitStart(t)

	m.ClearAll()
	status := m.GetStatus()
	assert.Equal(t, 0, status.Total)
	assert.True(t, status.IsRunning, "outstanding call still owned by the drain loop")

	next := m.AddPrompts([]string{"C"})
	m.Start()
	gen.assertNotStarted(t)

	gen.results <- outcome{path: "/tmp/a.mp4"}
	assert.Equal(t, "C", gen.awaitStart(t).Prompt)
	gen.results <- outcome{path: "/tmp/c.mp4"}
	waitIdle(t, m)

	_, found := m.GetItem(first[0].ID)
	assert.False(t, found)
	item, _ := m.GetItem(next[0].ID)
	assert.Equal(t, models.GenerationStatusCompleted, item.Status)
	assert.Equal(t, 1, m.GetStatus().Total)
	assert.Equal(t, int32(1), gen.maxActive.Load())
}

func TestManager_EndToEndSuccess(t *testing.T) {
	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	items := m.AddPrompts([]string{"a cat video"})
	m.Start()
	waitIdle(t, m)

	status := m.GetStatus()
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 0, status.Queued)
	assert.Equal(t, 0, status.Processing)
	assert.Equal(t, 0, status.Failed)

	item, _ := m.GetItem(items[0].ID)
	assert.Equal(t, "/tmp/out.mp4", item.ArtifactPath)
	assert.Empty(t, item.Error)
	assert.NotNil(t, item.StartedAt)
	assert.NotNil(t, item.CompletedAt)
}

func TestManager_EndToEndTimeout(t *testing.T) {
	var calls atomic.Int32
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		if calls.Add(1) == 1 {
			return "", fmt.Errorf("waiting for video: %w", automation.ErrTimeout)
		}
		return "/tmp/out.mp4", nil
	})
	m, _ := newTestManager(t, generator, nil, Options{})

	items := m.AddPrompts([]string{"a cat video"})
	m.Start()
	waitIdle(t, m)

	item, _ := m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusFailed, item.Status)
	assert.Contains(t, item.Error, "timed out")

	m.ClearCompleted()
	_, found := m.GetItem(items[0].ID)
	assert.True(t, found, "failed items survive clearCompleted")

	m.RetryFailed()
	waitIdle(t, m)
	item, _ = m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusCompleted, item.Status)
	assert.Equal(t, 1, item.RetryCount)
}

func TestManager_EmptyArtifactPathFails(t *testing.T) {
	m, _ := newTestManager(t, succeed(""), nil, Options{})

	items := m.AddPrompts([]string{"A"})
	m.Start()
	waitIdle(t, m)

	item, _ := m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusFailed, item.Status)
	assert.Empty(t, item.ArtifactPath)
	assert.NotEmpty(t, item.Error)
}

func TestManager_GeneratorPanicFailsItem(t *testing.T) {
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		panic("page crashed")
	})
	m, _ := newTestManager(t, generator, nil, Options{})

	items := m.AddPrompts([]string{"A", "B"})
	m.Start()
	waitIdle(t, m)

	status := m.GetStatus()
	assert.Equal(t, 2, status.Failed)
	item, _ := m.GetItem(items[0].ID)
	assert.Contains(t, item.Error, "page crashed")
}

func TestManager_ItemTimeoutBoundsGenerator(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{ItemTimeout: 20 * time.Millisecond})

	items := m.AddPrompts([]string{"A"})
	m.Start()
	gen.awaitStart(t)
	waitIdle(t, m)

	item, _ := m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusFailed, item.Status)
	assert.Contains(t, item.Error, context.DeadlineExceeded.Error())
}

func TestManager_SubmitIntervalSpacesCalls(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return "/tmp/out.mp4", nil
	})
	m, _ := newTestManager(t, generator, nil, Options{SubmitInterval: 30 * time.Millisecond})

	m.AddPrompts([]string{"A", "B", "C"})
	m.Start()
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[0]), 50*time.Millisecond)
}

func TestManager_PublishesItemEvents(t *testing.T) {
	generator := interfaces.GeneratorFunc(func(ctx context.Context, item models.GenerationItem) (string, error) {
		if item.Prompt == "bad" {
			return "", errors.New("rejected")
		}
		return "/tmp/out.mp4", nil
	})
	m, eventService := newTestManager(t, generator, nil, Options{})

	var mu sync.Mutex
	var kinds []string
	var sawCompleted bool
	record := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if event.Type == interfaces.EventQueueUpdate {
			if event.Payload.(models.QueueStatus).Completed == 1 {
				sawCompleted = true
			}
			return nil
		}
		item := event.Payload.(models.GenerationItem)
		kinds = append(kinds, string(event.Type)+":"+item.Prompt)
		return nil
	}
	for _, eventType := range []interfaces.EventType{
		interfaces.EventQueueUpdate,
		interfaces.EventItemStart,
		interfaces.EventItemComplete,
		interfaces.EventItemFail,
	} {
		eventService.Subscribe(eventType, record)
	}

	m.AddPrompts([]string{"good", "bad"})
	m.Start()
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"item_start:good",
		"item_complete:good",
		"item_start:bad",
		"item_fail:bad",
	}, kinds)
	assert.True(t, sawCompleted)
}

func TestManager_WaitIdleHonoursContext(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	m.AddPrompts([]string{"A"})
	m.Start()
	gen.awaitStart(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitIdle(ctx), context.DeadlineExceeded)

	gen.results <- outcome{path: "/tmp/a.mp4"}
	waitIdle(t, m)
}

func TestManager_CloseCancelsInFlightCall(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})

	items := m.AddPrompts([]string{"A", "B"})
	m.Start()
	gen.awaitStart(t)

	require.NoError(t, m.Close())
	waitIdle(t, m)
	gen.assertNotStarted(t)

	item, _ := m.GetItem(items[0].ID)
	assert.Equal(t, models.GenerationStatusFailed, item.Status)
	assert.Contains(t, item.Error, context.Canceled.Error())

	m.Start()
	gen.assertNotStarted(t)
}

func TestManager_WritesThroughToStorage(t *testing.T) {
	storage := newMemoryItemStorage()
	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), storage, Options{})

	items := m.AddPrompts([]string{"A", "B"})
	assert.Equal(t, 2, storage.len())

	m.Start()
	waitIdle(t, m)

	stored, err := storage.GetItem(context.Background(), items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, stored.Status)
	assert.Equal(t, "/tmp/out.mp4", stored.ArtifactPath)

	m.ClearCompleted()
	assert.Equal(t, 0, storage.len())

	m.AddPrompts([]string{"C"})
	m.ClearAll()
	assert.Equal(t, 0, storage.len())
}

func TestManager_RestoreMarksInterruptedItemsFailed(t *testing.T) {
	storage := newMemoryItemStorage()
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	seed := []models.GenerationItem{
		{ID: "gen_1", Prompt: "done", Status: models.GenerationStatusCompleted, Sequence: 1, ArtifactPath: "/tmp/1.mp4"},
		{ID: "gen_2", Prompt: "running", Status: models.GenerationStatusProcessing, Sequence: 2, StartedAt: &started},
		{ID: "gen_3", Prompt: "waiting", Status: models.GenerationStatusQueued, Sequence: 3},
	}
	for i := range seed {
		require.NoError(t, storage.SaveItem(ctx, &seed[i]))
	}

	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), storage, Options{})
	require.NoError(t, m.Restore(ctx))

	status := m.GetStatus()
	require.Len(t, status.Items, 3)
	assert.Equal(t, []string{"gen_1", "gen_2", "gen_3"}, []string{status.Items[0].ID, status.Items[1].ID, status.Items[2].ID})
	assert.Equal(t, models.GenerationStatusFailed, status.Items[1].Status)
	assert.Equal(t, InterruptedError, status.Items[1].Error)
	assert.Equal(t, models.GenerationStatusQueued, status.Items[2].Status)
	assert.True(t, status.IsPaused, "restored queue does not resume on its own")

	stored, err := storage.GetItem(ctx, "gen_2")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, stored.Status)

	added := m.AddPrompts([]string{"new"})
	assert.Equal(t, int64(4), added[0].Sequence)
}

func TestManager_WorkAddedAsDrainEndsIsPickedUp(t *testing.T) {
	for i := 0; i < 100; i++ {
		m, eventService := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

		stop := make(chan struct{})
		var contenders sync.WaitGroup
		for j := 0; j < 2; j++ {
			contenders.Add(1)
			go func() {
				defer contenders.Done()
				for {
					select {
					case <-stop:
						return
					default:
						m.IsDraining()
					}
				}
			}()
		}

		var triggered atomic.Bool
		eventService.Subscribe(interfaces.EventQueueUpdate, func(ctx context.Context, event interfaces.Event) error {
			status := event.Payload.(models.QueueStatus)
			if status.Completed == 1 && triggered.CompareAndSwap(false, true) {
				go m.AddPrompts([]string{"b"})
			}
			return nil
		})

		m.AddPrompts([]string{"a"})
		m.Start()

		require.Eventually(t, func() bool {
			return m.GetStatus().Completed == 2
		}, 2*time.Second, time.Millisecond, "iteration %d: queued item left behind on an unpaused queue", i)
		close(stop)
		contenders.Wait()
	}
}

func TestManager_HandlersMayCallBackIntoQueue(t *testing.T) {
	m, eventService := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	var once sync.Once
	eventService.Subscribe(interfaces.EventItemComplete, func(ctx context.Context, event interfaces.Event) error {
		once.Do(func() {
			m.AddPrompts([]string{"follow-up"})
			m.Start()
		})
		return nil
	})

	m.AddPrompts([]string{"first"})
	m.Start()

	require.Eventually(t, func() bool {
		return m.GetStatus().Completed == 2
	}, 2*time.Second, time.Millisecond)
	waitIdle(t, m)
}

func TestManager_UpdatesArriveInOrder(t *testing.T) {
	m, eventService := newTestManager(t, succeed("/tmp/out.mp4"), nil, Options{})

	var mu sync.Mutex
	var received []models.QueueStatus
	eventService.Subscribe(interfaces.EventQueueUpdate, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event.Payload.(models.QueueStatus))
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.AddPrompts([]string{fmt.Sprintf("prompt %d-%d", i, j)})
				m.Start()
				m.Pause()
			}
		}(i)
	}
	wg.Wait()
	m.Pause()
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, received)
	for k := 1; k < len(received); k++ {
		require.Greater(t, received[k].Version, received[k-1].Version, "update %d delivered out of order", k)
	}
	final := m.GetStatus()
	last := received[len(received)-1]
	assert.Equal(t, final.Version, last.Version)
	assert.True(t, last.IsPaused)
	assert.Equal(t, final.Completed, last.Completed)
}

// gatedItemStorage blocks the first SaveItem until released
type gatedItemStorage struct {
	*memoryItemStorage
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedItemStorage) SaveItem(ctx context.Context, item *models.GenerationItem) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.memoryItemStorage.SaveItem(ctx, item)
}

func TestManager_ClearAllWinsOverPendingWrite(t *testing.T) {
	storage := &gatedItemStorage{
		memoryItemStorage: newMemoryItemStorage(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	m, _ := newTestManager(t, succeed("/tmp/out.mp4"), storage, Options{})

	added := make(chan struct{})
	go func() {
		defer close(added)
		m.AddPrompts([]string{"A"})
	}()
	<-storage.entered

	m.ClearAll()
	close(storage.release)
	<-added
	waitIdle(t, m)

	assert.Equal(t, 0, m.GetStatus().Total)
	assert.Equal(t, 0, storage.len(), "cleared item written back to storage")

	restored, _ := newTestManager(t, succeed("/tmp/out.mp4"), storage, Options{})
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, 0, restored.GetStatus().Total)
}

func TestManager_WhileIdleHoldsDrainLoop(t *testing.T) {
	gen := newBlockingGenerator()
	m, _ := newTestManager(t, gen, nil, Options{})
	m.AddPrompts([]string{"A"})

	err := m.WhileIdle(func() error {
		m.Start()
		gen.assertNotStarted(t)
		assert.False(t, m.IsDraining())
		return nil
	})
	require.NoError(t, err)

	gen.awaitStart(t)
	assert.True(t, m.IsDraining())
	err = m.WhileIdle(func() error {
		t.Error("ran while an item was processing")
		return nil
	})
	assert.ErrorIs(t, err, interfaces.ErrQueueDraining)

	gen.results <- outcome{path: "/tmp/a.mp4"}
	waitIdle(t, m)

	launchErr := errors.New("launch failed")
	assert.ErrorIs(t, m.WhileIdle(func() error { return launchErr }), launchErr)
	assert.Equal(t, 1, m.GetStatus().Completed)
}

func TestNewOptions(t *testing.T) {
	opts := NewOptions(&common.QueueConfig{SubmitInterval: "2s", ItemTimeout: "10m"})
	assert.Equal(t, 2*time.Second, opts.SubmitInterval)
	assert.Equal(t, 10*time.Minute, opts.ItemTimeout)

	opts = NewOptions(&common.QueueConfig{SubmitInterval: "0", ItemTimeout: "bogus"})
	assert.Zero(t, opts.SubmitInterval)
	assert.Zero(t, opts.ItemTimeout)
}
