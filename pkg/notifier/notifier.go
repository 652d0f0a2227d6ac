// Package notifier surfaces run-level events to the operator
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/rapidclay/fabrun/pkg/logger"
)

// RunNotifier sends desktop notifications for fabrication run events, so
// an operator supervising the cell from another screen sees completions
// and aborts without tailing the log.
type RunNotifier struct {
	enabled bool
	logger  logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled bool
}

// New creates a new run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled: config.Enabled,
		logger:  log,
	}
}

// NotifyRunStart notifies that a fabrication run has started
func (n *RunNotifier) NotifyRunStart(runID string, elementCount int) {
	if !n.enabled {
		return
	}
	n.send("Fabrication run started", fmt.Sprintf("Run %s: %d elements queued", runID, elementCount))
}

// NotifyElementPlaced notifies about per-element progress
func (n *RunNotifier) NotifyElementPlaced(runID string, index, total int) {
	if !n.enabled {
		return
	}
	// Per-element popups would be noise; only the halfway point is
	// worth announcing on long runs.
	if total >= 10 && index == total/2 {
		n.send("Fabrication run halfway", fmt.Sprintf("Run %s: %d/%d elements placed", runID, index, total))
	}
}

// NotifyRunComplete notifies that a run finished successfully
func (n *RunNotifier) NotifyRunComplete(runID string, placed int, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.send("✅ Fabrication run complete", fmt.Sprintf("Run %s: %d elements placed in %s", runID, placed, duration.Round(time.Second)))
}

// NotifyRunAborted notifies that a run aborted
func (n *RunNotifier) NotifyRunAborted(runID string, err error) {
	if !n.enabled {
		return
	}
	n.send("❌ Fabrication run aborted", fmt.Sprintf("Run %s: %v", runID, err))
}

func (n *RunNotifier) send(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}
