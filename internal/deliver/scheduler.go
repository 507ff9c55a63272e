package deliver

import "sync"

// Scheduler runs the heavier chat-facing delivery work detached from the
// accept/reject decision. A detached task keeps running after the decision
// has been made; its failure is observed only through logging and never
// changes that decision.
type Scheduler interface {
	RunDetached(task func())
}

// WaitScheduler runs detached tasks on goroutines and lets the process wait
// for them during shutdown.
type WaitScheduler struct {
	wg sync.WaitGroup
}

// NewWaitScheduler creates a WaitScheduler.
func NewWaitScheduler() *WaitScheduler {
	return &WaitScheduler{}
}

// RunDetached starts the task on its own goroutine.
func (s *WaitScheduler) RunDetached(task func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
}

// Wait blocks until every detached task has finished.
func (s *WaitScheduler) Wait() {
	s.wg.Wait()
}

// InlineScheduler runs tasks synchronously. Tests use it to make detached
// work deterministic.
type InlineScheduler struct{}

// RunDetached runs the task immediately on the calling goroutine.
func (InlineScheduler) RunDetached(task func()) {
	task()
}
