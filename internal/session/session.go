// Package session manages the lifecycle of one robot controller session
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidclay/fabrun/internal/docker"
	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/types"
)

// maxConnectAttempts bounds how often the driver is recreated when the
// controller stays unreachable.
const maxConnectAttempts = 3

// restartSettle is how long the driver container gets to boot after a
// forced recreate before the next reachability probe.
const restartSettle = 10 * time.Second

// Manager brings the controller session up before any motion command is
// issued and guarantees teardown on every exit path.
type Manager struct {
	cfg     *types.RunConfig
	compose interfaces.ComposeRunner
	dialer  interfaces.ControllerDialer
	clock   interfaces.Clock
	logger  logger.Logger
}

// NewManager creates a session manager.
func NewManager(cfg *types.RunConfig, compose interfaces.ComposeRunner, dialer interfaces.ControllerDialer, clock interfaces.Clock, log logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		compose: compose,
		dialer:  dialer,
		clock:   clock,
		logger:  log,
	}
}

// Session is a live, addressable controller connection. It is owned
// exclusively by its manager for the duration of one fabrication run.
type Session struct {
	controller interfaces.Controller
	manager    *Manager

	closeOnce sync.Once
	closeErr  error
}

// Controller returns the live controller connection.
func (s *Session) Controller() interfaces.Controller {
	return s.controller
}

// Open establishes the session: bring the containerized driver up, poll
// for reachability, and absorb post-boot instability before declaring
// the session ready.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	composeFile := m.cfg.Docker.ComposeFile
	env := map[string]string{"ROBOT_IP": docker.RobotIP(m.cfg.Target)}

	if composeFile != "" {
		if err := m.compose.Up(ctx, interfaces.ComposeUpOptions{
			ComposeFile: composeFile,
			Env:         env,
		}); err != nil {
			return nil, &ConnectionError{Err: err, RetryHint: "check that the docker daemon is running and the compose file path is valid"}
		}
		m.logger.Debug("Driver services are running", logger.WithField("compose_file", composeFile))
	}

	controller, err := m.dialer.Dial(ctx, m.cfg.Target)
	if err != nil {
		return nil, &ConnectionError{Err: err, RetryHint: "verify the controller address and restart the driver"}
	}

	if err := m.awaitReachable(ctx, controller, composeFile, env); err != nil {
		// The half-open connection must not leak on a failed open.
		if closeErr := controller.Close(); closeErr != nil {
			m.logger.Warn("Failed to close controller after unreachable session", logger.WithField("error", closeErr))
		}
		return nil, err
	}

	// Fresh simulated controllers answer pings before they accept
	// motion reliably; give them the configured settle time.
	if settle := m.cfg.Docker.SleepAfterUp.Duration(); settle > 0 {
		m.logger.Debug("Settling after controller came up", logger.WithField("sleep", settle))
		if err := m.clock.Sleep(ctx, settle); err != nil {
			if closeErr := controller.Close(); closeErr != nil {
				m.logger.Warn("Failed to close controller after cancelled open", logger.WithField("error", closeErr))
			}
			return nil, err
		}
	}

	m.logger.Info("Controller session ready", logger.WithField("target", m.cfg.Target))
	return &Session{controller: controller, manager: m}, nil
}

// awaitReachable polls the controller, recreating the driver between
// attempts the way an operator would when the stack hangs on boot.
func (m *Manager) awaitReachable(ctx context.Context, controller interfaces.Controller, composeFile string, env map[string]string) error {
	timeout := m.cfg.Docker.TimeoutPing.Duration()

	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		m.logger.Debug("Pinging controller", logger.WithField("attempt", attempt))

		lastErr = controller.Ping(ctx, timeout)
		if lastErr == nil {
			m.logger.Debug("Controller responded", logger.WithField("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if composeFile == "" || attempt == maxConnectAttempts {
			continue
		}

		m.logger.Info("No response from controller, restarting driver service")
		if err := m.compose.Up(ctx, interfaces.ComposeUpOptions{
			ComposeFile:   composeFile,
			ForceRecreate: true,
			Env:           env,
		}); err != nil {
			return &ConnectionError{Err: err, RetryHint: "driver restart failed, check docker compose logs"}
		}
		if err := m.clock.Sleep(ctx, restartSettle); err != nil {
			return err
		}
	}

	if !errors.Is(lastErr, ErrPingTimeout) {
		lastErr = errors.Join(ErrPingTimeout, lastErr)
	}
	return &ConnectionError{Err: lastErr, RetryHint: "controller unreachable after driver restarts, check robot power and network"}
}

// Close tears the session down: controller connection and driver
// containers, concurrently since they are independent resources. It is
// idempotent; repeated calls return the first result without repeating
// teardown effects.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.manager.logger.Debug("Closing controller session")

		// Teardown must proceed even when the run context was
		// cancelled, so it gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return s.controller.Close()
		})
		if composeFile := s.manager.cfg.Docker.ComposeFile; composeFile != "" {
			g.Go(func() error {
				return s.manager.compose.Down(ctx, composeFile)
			})
		}
		s.closeErr = g.Wait()
	})
	return s.closeErr
}
