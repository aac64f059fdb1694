package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/streamwatch/internal/session"
)

// RunInfo holds metadata about an active pipeline run.
type RunInfo struct {
	// Source is the descriptor the run was started with.
	Source string

	// StartedAt is when the run was started.
	StartedAt time.Time
}

// Manager owns the lifecycle of pipeline runs for one control client. Only
// one run can be active at a time (enforced by mutex). All exported methods
// are safe for concurrent use.
type Manager struct {
	newPipeline func() *Pipeline

	mu       sync.Mutex
	active   bool
	info     RunInfo
	pipeline *Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
}

// NewManager creates a Manager. newPipeline is called once per started run so
// every run gets a fresh Pipeline.
func NewManager(newPipeline func() *Pipeline) *Manager {
	return &Manager{newPipeline: newPipeline}
}

// Start begins a new pipeline run over src in a background goroutine.
// Returns an error if a run is already active.
func (m *Manager) Start(ctx context.Context, src string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("app: a run is already active (source=%s)", m.info.Source)
	}

	p := m.newPipeline()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.active = true
	m.pipeline = p
	m.cancel = cancel
	m.done = done
	m.runErr = nil
	m.info = RunInfo{
		Source:    src,
		StartedAt: time.Now().UTC(),
	}

	go func() {
		defer close(done)
		err := p.Run(runCtx, src)
		cancel()

		m.mu.Lock()
		m.active = false
		m.runErr = err
		m.mu.Unlock()

		if err != nil && runCtx.Err() == nil {
			slog.Error("pipeline run failed", "source", src, "err", err)
		} else {
			slog.Info("pipeline run ended", "source", src)
		}
	}()

	slog.Info("run started", "source", src)
	return nil
}

// Stop cancels the active run and waits for it to unwind. Returns an error
// if no run is active.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return fmt.Errorf("app: no active run to stop")
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Pause suspends the active run's audio intake.
func (m *Manager) Pause() error {
	p, err := m.activePipeline()
	if err != nil {
		return err
	}
	p.Pause()
	return nil
}

// Resume lifts a pause on the active run.
func (m *Manager) Resume() error {
	p, err := m.activePipeline()
	if err != nil {
		return err
	}
	p.Resume()
	return nil
}

// SetKeywords replaces the keyword watch list on the active run.
func (m *Manager) SetKeywords(words []string) error {
	p, err := m.activePipeline()
	if err != nil {
		return err
	}
	p.SetKeywords(words)
	return nil
}

// IsActive reports whether a run is currently in flight.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the active run, or the zero value when idle.
func (m *Manager) Info() RunInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// State returns the active run's session phase, or [session.StateIdle].
func (m *Manager) State() session.State {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p == nil {
		return session.StateIdle
	}
	return p.State()
}

// Done returns a channel closed when the current run ends, or nil when no
// run has been started yet.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the terminal error of the most recent run, if any. Only valid
// after the Done channel is closed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runErr
}

func (m *Manager) activePipeline() (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, fmt.Errorf("app: no active run")
	}
	return m.pipeline, nil
}
