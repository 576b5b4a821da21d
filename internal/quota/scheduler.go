package quota

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ResetScheduler fires the daily quota reset at each UTC midnight. It arms a
// single timer for the next boundary, resets when it fires, then re-arms for
// 24 hours later.
type ResetScheduler struct {
	manager *Manager
	clock   Clock
	logger  *logrus.Logger

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// NewResetScheduler creates a scheduler bound to the manager's clock.
func NewResetScheduler(manager *Manager, clock Clock, logger *logrus.Logger) *ResetScheduler {
	return &ResetScheduler{
		manager: manager,
		clock:   clock,
		logger:  logger,
	}
}

// Start arms the timer for the next UTC midnight.
func (s *ResetScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	delay := untilNextUTCMidnight(s.clock.Now())
	s.logger.WithField("next_reset_in", delay.String()).Info("Quota reset scheduled")
	s.timer = s.clock.AfterFunc(delay, s.fire)
}

// Stop cancels any pending reset.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *ResetScheduler) fire() {
	s.manager.ResetDaily()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	// Re-arm from the boundary computation rather than a fixed 24h so a
	// late-firing timer cannot drift off midnight.
	delay := untilNextUTCMidnight(s.clock.Now())
	if delay < time.Minute {
		delay += 24 * time.Hour
	}
	s.timer = s.clock.AfterFunc(delay, s.fire)
}
