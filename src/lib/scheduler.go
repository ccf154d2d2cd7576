package lib

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Timer is a cancellable handle to a delayed task.
type Timer interface {
	// Stop prevents the task from running. It reports false when the task
	// already ran or was stopped before.
	Stop() bool
}

// Scheduler runs delayed tasks off the caller's goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// WorkerScheduler fires tasks from time.AfterFunc timers and bounds how many
// of them execute at once.
type WorkerScheduler struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewScheduler(workers int) *WorkerScheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerScheduler{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *WorkerScheduler) Now() time.Time {
	return time.Now()
}

func (s *WorkerScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, func() { s.run(fn) })
}

func (s *WorkerScheduler) run(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)
	fn()
}

// Close stops accepting fired tasks and waits for running ones.
func (s *WorkerScheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualScheduler is a deterministic Scheduler whose clock only moves on
// Advance. Due tasks run synchronously inside Advance, ordered by due time
// and then by scheduling order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	owner   *ManualScheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start.UTC()}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	task := &manualTask{owner: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, task)
	return task
}

func (t *manualTask) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, running every task that becomes due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		task := s.nextDueLocked(target)
		if task == nil {
			s.now = target
			s.compactLocked()
			s.mu.Unlock()
			return
		}
		task.fired = true
		s.now = task.at
		s.mu.Unlock()

		task.fn()
	}
}

// RunPending runs tasks that are due at the current instant.
func (s *ManualScheduler) RunPending() {
	s.Advance(0)
}

// Pending reports how many tasks are still waiting to fire.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks {
		if !task.stopped && !task.fired {
			n++
		}
	}
	return n
}

func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTask {
	due := make([]*manualTask, 0)
	for _, task := range s.tasks {
		if task.stopped || task.fired || task.at.After(target) {
			continue
		}
		due = append(due, task)
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (s *ManualScheduler) compactLocked() {
	live := s.tasks[:0]
	for _, task := range s.tasks {
		if !task.stopped && !task.fired {
			live = append(live, task)
		}
	}
	s.tasks = live
}
