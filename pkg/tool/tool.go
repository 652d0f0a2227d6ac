// Package tool coordinates gripper actuation over digital I/O
package tool

import (
	"context"
	"fmt"

	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/types"
)

// GripState is the coordinator's view of the physical gripper.
type GripState string

const (
	StateReleased GripState = "released"
	StateGripped  GripState = "gripped"
)

// Simulator-side procedures used when the run targets the virtual
// controller instead of real digital I/O.
const (
	simGripInstruction    = "r_RS_ToolGrip"
	simReleaseInstruction = "r_RS_ToolRelease"
)

// OrderingError reports a grip/release contract violation: gripping while
// already gripped or releasing while already released. It indicates a
// logic fault in the orchestrator and is never retried.
type OrderingError struct {
	Op    string
	State GripState
}

// Error implements the error interface
func (e *OrderingError) Error() string {
	return fmt.Sprintf("tool: %s called while %s", e.Op, e.State)
}

// Coordinator sequences grip and release signals around motion. It is a
// two-state machine starting in StateReleased.
type Coordinator struct {
	controller interfaces.Controller
	params     types.ToolParams
	target     types.Target
	log        logger.Logger
	state      GripState
}

// NewCoordinator creates a coordinator in the released state.
func NewCoordinator(controller interfaces.Controller, params types.ToolParams, target types.Target, log logger.Logger) *Coordinator {
	return &Coordinator{
		controller: controller,
		params:     params,
		target:     target,
		log:        log,
		state:      StateReleased,
	}
}

// State returns the current gripper state.
func (c *Coordinator) State() GripState {
	return c.state
}

// Grip sets the needle pin to the grip state and waits wait_after_io
// before returning, so motion never starts before the gripper has seated.
func (c *Coordinator) Grip(ctx context.Context) error {
	if c.state == StateGripped {
		return &OrderingError{Op: "grip", State: c.state}
	}
	if err := c.actuate(ctx, c.params.GripState, simGripInstruction); err != nil {
		return err
	}
	c.state = StateGripped
	c.log.Debug("Signal sent to grip", logger.WithField("pin", c.params.IONeedlesPin))
	return nil
}

// Release is symmetric to Grip, using the release state.
func (c *Coordinator) Release(ctx context.Context) error {
	if c.state == StateReleased {
		return &OrderingError{Op: "release", State: c.state}
	}
	if err := c.actuate(ctx, c.params.ReleaseState, simReleaseInstruction); err != nil {
		return err
	}
	c.state = StateReleased
	c.log.Debug("Signal sent to release", logger.WithField("pin", c.params.IONeedlesPin))
	return nil
}

// ForceRelease sends the release signal regardless of tracked state. Used
// once at each run boundary so the physical tool is in a known state even
// if a previous run died mid-grip. It does not count as a state
// transition for ordering purposes.
func (c *Coordinator) ForceRelease(ctx context.Context) error {
	if err := c.actuate(ctx, c.params.ReleaseState, simReleaseInstruction); err != nil {
		return err
	}
	c.state = StateReleased
	return nil
}

// actuate performs the target-appropriate I/O transition and the mandated
// post-I/O settle via the controller.
func (c *Coordinator) actuate(ctx context.Context, doState int, simInstruction string) error {
	if c.target == types.TargetVirtual {
		// The simulator visualizes gripping through controller-side
		// procedures; the tool tip must already touch the material.
		return c.controller.CustomInstruction(ctx, simInstruction)
	}

	if err := c.controller.SetDigital(ctx, c.params.IONeedlesPin, doState); err != nil {
		return err
	}
	return c.controller.WaitTime(ctx, c.params.WaitAfterIO.Duration())
}
