// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/types"
)

// Controller abstracts the robot controller connection. Every method is a
// blocking request/acknowledge exchange: it returns once the controller
// has confirmed (or faulted on) the instruction. The concrete wire
// protocol behind it is an external collaborator.
type Controller interface {
	// Ping probes controller reachability within the given timeout.
	Ping(ctx context.Context, timeout time.Duration) error

	SetTool(ctx context.Context, toolName string) error
	SetWorkObject(ctx context.Context, wobjName string) error
	SetAcceleration(ctx context.Context, accel, ramp float64) error
	SetMaxSpeed(ctx context.Context, override, maxTCP float64) error

	// MoveToFrame blocks until motion completion or a motion fault.
	MoveToFrame(ctx context.Context, frame types.Frame, speed float64, zone types.Zone) error
	// MoveToJoints moves through a joint-space pose.
	MoveToJoints(ctx context.Context, joints types.JointPose, speed float64, zone types.Zone) error

	// SetDigital sets a digital output channel to the given signal level.
	SetDigital(ctx context.Context, pin string, state int) error
	// WaitTime dwells on the controller for the given duration.
	WaitTime(ctx context.Context, d time.Duration) error
	// CustomInstruction runs a named controller-side procedure, used by
	// the simulated target for grip/release visualization.
	CustomInstruction(ctx context.Context, name string) error
	// PrintText shows a message on the controller pendant.
	PrintText(ctx context.Context, message string) error

	Close() error
}

// ControllerDialer establishes a controller connection once the
// containerized driver is up.
type ControllerDialer interface {
	Dial(ctx context.Context, target types.Target) (Controller, error)
}

// ComposeRunner manages the containerized controller driver lifecycle.
type ComposeRunner interface {
	Up(ctx context.Context, opts ComposeUpOptions) error
	Down(ctx context.Context, composeFile string) error
}

// ComposeUpOptions configures a compose bring-up.
type ComposeUpOptions struct {
	ComposeFile   string
	ForceRecreate bool
	RemoveOrphans bool
	// Env holds extra variables for the compose invocation, e.g. ROBOT_IP.
	Env map[string]string
}

// Clock abstracts local sleeps so settle delays are testable with a fake
// clock. Sleep returns early with the context error on cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RunNotifier reports run-level events to the operator.
type RunNotifier interface {
	NotifyRunStart(runID string, elementCount int)
	NotifyElementPlaced(runID string, index, total int)
	NotifyRunComplete(runID string, placed int, duration time.Duration)
	NotifyRunAborted(runID string, err error)
}

// ProgressStore persists per-run progress so an interrupted run can be
// resumed from its last placed element.
type ProgressStore interface {
	SaveProgress(elements []*fabdata.Element) error
}
