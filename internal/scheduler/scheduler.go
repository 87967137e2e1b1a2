// Package scheduler runs one-shot deferred work keyed by an identifier.
// Scheduling a key that is already pending replaces it.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Func is deferred work. The context is detached from the request that
// scheduled it.
type Func func(ctx context.Context)

type Scheduler interface {
	Schedule(key string, delay time.Duration, fn Func)
	// Cancel reports whether a pending task was removed.
	Cancel(key string) bool
}

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// TimerScheduler runs tasks on time.AfterFunc goroutines.
type TimerScheduler struct {
	mu      sync.Mutex
	entries map[string]timerEntry
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{entries: make(map[string]timerEntry), ctx: ctx, cancel: cancel}
}

func (s *TimerScheduler) Schedule(key string, delay time.Duration, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if prev, ok := s.entries[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.entries[key]
		if !ok || cur.gen != gen || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		delete(s.entries, key)
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		fn(s.ctx)
	})
	s.entries[key] = timerEntry{timer: timer, gen: gen}
}

func (s *TimerScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, key)
	return true
}

// Pending returns the number of tasks not yet started.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop drops pending tasks, cancels the context of running ones and waits
// for them to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	for key, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, key)
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

type manualTask struct {
	key string
	due time.Time
	seq uint64
	fn  Func
}

// Manual is a virtual-time Scheduler. Tasks run synchronously inside Advance.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks map[string]manualTask
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tasks: make(map[string]manualTask)}
}

// Now is the current virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(key string, delay time.Duration, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks[key] = manualTask{key: key, due: m.now.Add(delay), seq: m.seq, fn: fn}
}

func (m *Manual) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	delete(m.tasks, key)
	return ok
}

// Pending lists the keys of scheduled tasks in due order.
func (m *Manual) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.ordered()
	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.key
	}
	return keys
}

// Advance moves virtual time forward by d and runs every task that became
// due, earliest first. It returns the number of tasks run.
func (m *Manual) Advance(ctx context.Context, d time.Duration) int {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due []manualTask
	for _, t := range m.ordered() {
		if !t.due.After(m.now) {
			due = append(due, t)
			delete(m.tasks, t.key)
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		t.fn(ctx)
	}
	return len(due)
}

func (m *Manual) ordered() []manualTask {
	tasks := make([]manualTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].due.Equal(tasks[j].due) {
			return tasks[i].seq < tasks[j].seq
		}
		return tasks[i].due.Before(tasks[j].due)
	})
	return tasks
}
