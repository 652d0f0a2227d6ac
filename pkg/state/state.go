// Package state persists per-run status for fabrication runs
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/types"
)

// RunRecord is the persistent state of one fabrication run. A monitoring
// shell (or the next run) can read it to see whether a run is live,
// finished or aborted, and how far it got.
type RunRecord struct {
	RunID         string         `json:"runId"`
	Target        types.Target   `json:"target"`
	Status        types.RunState `json:"status"`
	TotalElements int            `json:"totalElements"`
	PlacedCount   int            `json:"placedCount"`
	StartedAt     time.Time      `json:"startedAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Heartbeat     time.Time      `json:"heartbeat"`
	ProcessID     int            `json:"processId"`
	LastError     string         `json:"lastError,omitempty"`
}

// Manager owns the state file of the current run. All mutations go
// through it so the on-disk record never lags by more than one update.
type Manager struct {
	stateDir string
	logger   logger.Logger

	mu            sync.Mutex
	record        *RunRecord
	heartbeatStop chan struct{}
	wg            sync.WaitGroup
}

// NewManager creates a state manager writing under <logDir>/state.
func NewManager(logDir string, log logger.Logger) *Manager {
	stateDir := filepath.Join(logDir, "state")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &Manager{
		stateDir: stateDir,
		logger:   log,
	}
}

// Begin creates the record for a new run and persists it.
func (m *Manager) Begin(target types.Target, totalElements int) *RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.record = &RunRecord{
		RunID:         uuid.NewString(),
		Target:        target,
		Status:        types.RunStateIdle,
		TotalElements: totalElements,
		StartedAt:     now,
		UpdatedAt:     now,
		Heartbeat:     now,
		ProcessID:     os.Getpid(),
	}
	m.saveLocked()
	return m.record
}

// Record returns a copy of the current record.
func (m *Manager) Record() RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return RunRecord{}
	}
	return *m.record
}

// SetStatus updates the run lifecycle state.
func (m *Manager) SetStatus(status types.RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return
	}
	m.record.Status = status
	m.record.UpdatedAt = time.Now()
	m.saveLocked()
}

// ElementPlaced bumps the placed counter.
func (m *Manager) ElementPlaced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return
	}
	m.record.PlacedCount++
	m.record.UpdatedAt = time.Now()
	m.saveLocked()
}

// SetError records the failure that ended the run.
func (m *Manager) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil || err == nil {
		return
	}
	m.record.LastError = err.Error()
	m.record.UpdatedAt = time.Now()
	m.saveLocked()
}

// StartHeartbeat refreshes the record's heartbeat every interval until
// the context is cancelled or StopHeartbeat is called, so stale state
// files from dead processes are recognizable.
func (m *Manager) StartHeartbeat(ctx context.Context) {
	m.mu.Lock()
	if m.heartbeatStop != nil {
		m.mu.Unlock()
		return
	}
	m.heartbeatStop = make(chan struct{})
	stop := m.heartbeatStop
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				if m.record != nil {
					m.record.Heartbeat = time.Now()
					m.saveLocked()
				}
				m.mu.Unlock()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat goroutine.
func (m *Manager) StopHeartbeat() {
	m.mu.Lock()
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ReadRecord loads a persisted run record by id.
func (m *Manager) ReadRecord(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(m.recordPath(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt run state %s: %w", runID, err)
	}
	return &record, nil
}

func (m *Manager) recordPath(runID string) string {
	return filepath.Join(m.stateDir, runID+".json")
}

// saveLocked writes the record atomically. Callers hold m.mu.
func (m *Manager) saveLocked() {
	data, err := json.MarshalIndent(m.record, "", "  ")
	if err != nil {
		m.logger.Warn("Failed to encode run state", logger.WithField("error", err))
		return
	}

	path := m.recordPath(m.record.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		m.logger.Warn("Failed to write run state", logger.WithField("error", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		m.logger.Warn("Failed to commit run state", logger.WithField("error", err))
	}
}
