package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
)

// Service resumes the generation queue on a cron schedule
type Service struct {
	queue  interfaces.QueueService
	ready  func() bool
	cron   *cron.Cron
	logger arbor.ILogger

	mu       sync.Mutex
	running  bool
	schedule string
	entryID  cron.EntryID
	lastRun  *time.Time
	skipped  int
}

// NewService creates a scheduler for queue.
// ready, when non-nil, gates each trigger (typically the session's IsReady).
func NewService(queue interfaces.QueueService, ready func() bool, logger arbor.ILogger) *Service {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		queue:  queue,
		ready:  ready,
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger,
	}
}

// Start registers schedule and starts the cron runner. An empty schedule is a no-op.
func (s *Service) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if schedule == "" {
		s.logger.Debug().Msg("No auto-start schedule configured")
		return nil
	}

	id, err := s.cron.AddFunc(schedule, s.Trigger)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = id
	s.schedule = schedule
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", schedule).
		Str("next_run", s.cron.Entry(id).Next.Format(time.RFC3339)).
		Msg("Queue auto-start scheduled")
	return nil
}

// Trigger resumes the queue now, unless the ready gate reports false
func (s *Service) Trigger() {
	now := time.Now()

	if s.ready != nil && !s.ready() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn().Msg("Scheduled queue start skipped, session not ready")
		return
	}

	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()

	status := s.queue.GetStatus()
	s.logger.Info().Int("queued", status.Queued).Msg("Scheduled queue start")
	s.queue.Resume()
}

// NextRun returns the next scheduled trigger, or nil when not running
func (s *Service) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	return &next
}

// LastRun returns the time of the last trigger that resumed the queue
func (s *Service) LastRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Skipped counts triggers dropped by the ready gate
func (s *Service) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Stop halts the cron runner and waits for a running trigger to return
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}
