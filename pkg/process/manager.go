// Package process bridges operator signals to run cancellation
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rapidclay/fabrun/pkg/logger"
)

// Manager turns SIGINT/SIGTERM into context cancellation. The run state
// machine observes the cancelled context only between motion primitives,
// never mid-motion, so an operator abort always leaves the robot at a
// completed waypoint.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
	stopChan         chan struct{}
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
	}
}

// RegisterShutdownHandler adds a handler run after cancellation, in
// registration-reverse order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start returns a child context that is cancelled on the first SIGINT or
// SIGTERM. A second signal while handlers are still running exits hard.
func (m *Manager) Start(ctx context.Context) context.Context {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ctx
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
			cancel()
		case sig := <-sigChan:
			m.logger.Warn("Abort requested, stopping after the current motion", logger.WithField("signal", sig))
			cancel()
			m.handleShutdown()

			select {
			case sig = <-sigChan:
				m.logger.Error("Second signal received, exiting immediately", logger.WithField("signal", sig))
				os.Exit(1)
			case <-ctx.Done():
			case <-stop:
			}
		}
	}()

	return runCtx
}

// Stop stops signal handling and waits for the watcher goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.stopChan = nil
	m.mu.Unlock()

	signal.Reset(os.Interrupt, syscall.SIGTERM)
	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
