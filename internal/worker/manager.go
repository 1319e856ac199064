// Package worker serializes work per session: each session gets one runner goroutine
// that executes its tasks in arrival order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docchat/internal/logging"
)

const (
	defaultQueueLen    = 16
	defaultIdleTimeout = 5 * time.Minute
)

var (
	ErrQueueFull = errors.New("session task queue full")
	ErrStopped   = errors.New("session runner stopped")
)

// Task is one unit of session work. ctx is the caller's context.
type Task func(ctx context.Context) error

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

type Manager struct {
	cfg Config

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool
	wg      sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

type runner struct {
	sessionID string
	jobs      chan job
	stop      chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueLen
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Manager{cfg: cfg, runners: make(map[string]*runner)}
}

// Do queues fn on the session's runner and waits for it. Tasks of one session never
// overlap; tasks of different sessions run concurrently.
func (m *Manager) Do(ctx context.Context, sessionID string, fn Task) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStopped
	}
	r := m.ensureRunnerLocked(sessionID)
	select {
	case r.jobs <- j:
	default:
		m.mu.Unlock()
		return ErrQueueFull
	}
	m.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// the runner skips the task if it has not started yet
		return ctx.Err()
	}
}

// Purge stops the session's runner. A task already executing is not interrupted.
func (m *Manager) Purge(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[sessionID]; ok {
		delete(m.runners, sessionID)
		close(r.stop)
	}
}

// Stop stops every runner and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	for id, r := range m.runners {
		delete(m.runners, id)
		close(r.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Active returns the number of live runners.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}

func (m *Manager) ensureRunnerLocked(sessionID string) *runner {
	if r, ok := m.runners[sessionID]; ok {
		return r
	}
	r := &runner{
		sessionID: sessionID,
		jobs:      make(chan job, m.cfg.QueueSize),
		stop:      make(chan struct{}),
	}
	m.runners[sessionID] = r
	m.wg.Add(1)
	go m.run(r)
	return r
}

func (m *Manager) run(r *runner) {
	defer m.wg.Done()
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.stop:
			m.drain(r)
			return
		case j := <-r.jobs:
			m.exec(r.sessionID, j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)
		case <-idle.C:
			// retire only if nothing was queued meanwhile; Do enqueues under the same lock
			m.mu.Lock()
			if len(r.jobs) == 0 {
				if m.runners[r.sessionID] == r {
					delete(m.runners, r.sessionID)
				}
				m.mu.Unlock()
				logging.Debug().Str("session_id", r.sessionID).Msg("session runner retired")
				return
			}
			m.mu.Unlock()
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

func (m *Manager) exec(sessionID string, j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logging.Error().Str("session_id", sessionID).Interface("panic", p).Msg("session task panicked")
			j.done <- fmt.Errorf("session task panicked: %v", p)
		}
	}()
	j.done <- j.fn(j.ctx)
}

func (m *Manager) drain(r *runner) {
	for {
		select {
		case j := <-r.jobs:
			j.done <- ErrStopped
		default:
			return
		}
	}
}
