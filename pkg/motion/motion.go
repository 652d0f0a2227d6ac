// Package motion translates semantic waypoints into controller motion commands
package motion

import (
	"context"
	"fmt"

	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/tool"
	"github.com/rapidclay/fabrun/pkg/types"
)

// simCreateInstruction spawns a visual clay element in the simulator
// before a virtual pick.
const simCreateInstruction = "r_RS_CreateElement"

// Fault reports a motion command the controller rejected or aborted. The
// caller decides on retry policy; this layer never retries silently.
type Fault struct {
	Command string
	Err     error
}

// Error implements the error interface
func (f *Fault) Error() string {
	return fmt.Sprintf("motion fault during %s: %v", f.Command, f.Err)
}

// Unwrap supports errors.Is/As
func (f *Fault) Unwrap() error {
	return f.Err
}

// Rig drives the robot through the pick/place choreography. Speed, zone
// and offset parameters come from the immutable run configuration;
// session-global overrides (speed_override, accel, accel_ramp) are set
// once in Setup and never reinterpreted per move.
type Rig struct {
	controller interfaces.Controller
	cfg        *types.RunConfig
	tool       *tool.Coordinator
	log        logger.Logger

	// OnPhase, when set, is told which choreography phase the rig is
	// entering. The run state machine uses it to track progress.
	OnPhase func(types.RunState)
}

// NewRig creates a motion rig for one controller session.
func NewRig(controller interfaces.Controller, cfg *types.RunConfig, coordinator *tool.Coordinator, log logger.Logger) *Rig {
	return &Rig{
		controller: controller,
		cfg:        cfg,
		tool:       coordinator,
		log:        log,
	}
}

// Tool exposes the actuation coordinator owned by this rig.
func (r *Rig) Tool() *tool.Coordinator {
	return r.tool
}

func (r *Rig) phase(s types.RunState) {
	if r.OnPhase != nil {
		r.OnPhase(s)
	}
}

// moveFrame wraps a frame move so faults carry the offending command.
func (r *Rig) moveFrame(ctx context.Context, frame types.Frame, speed float64, zone types.Zone) error {
	if err := r.controller.MoveToFrame(ctx, frame, speed, zone); err != nil {
		return &Fault{Command: fmt.Sprintf("MoveToFrame(speed=%v, zone=%s)", speed, zone), Err: err}
	}
	return nil
}

func (r *Rig) moveJoints(ctx context.Context, joints types.JointPose, speed float64, zone types.Zone) error {
	if err := r.controller.MoveToJoints(ctx, joints, speed, zone); err != nil {
		return &Fault{Command: fmt.Sprintf("MoveToJoints(speed=%v, zone=%s)", speed, zone), Err: err}
	}
	return nil
}

// Setup sends the session-global settings: a safety release, tool and
// work object selection, acceleration and speed overrides.
func (r *Rig) Setup(ctx context.Context) error {
	if err := r.tool.ForceRelease(ctx); err != nil {
		return err
	}

	if err := r.controller.SetTool(ctx, r.cfg.Tool.ToolName); err != nil {
		return err
	}
	r.log.Debug("Tool set", logger.WithField("tool", r.cfg.Tool.ToolName))

	if err := r.controller.SetWorkObject(ctx, r.cfg.Wobjs.PlacingWobjName); err != nil {
		return err
	}
	r.log.Debug("Work object set", logger.WithField("wobj", r.cfg.Wobjs.PlacingWobjName))

	if err := r.controller.SetAcceleration(ctx, r.cfg.SpeedValues.Accel, r.cfg.AccelRamp()); err != nil {
		return err
	}
	if err := r.controller.SetMaxSpeed(ctx, r.cfg.SpeedValues.SpeedOverride, r.cfg.SpeedValues.SpeedMaxTCP); err != nil {
		return err
	}
	r.log.Debug("Acceleration and speed overrides set")

	return nil
}

// SafeStart moves the robot to the safe start posture at travel speed,
// bounding the run with a known collision-free joint configuration.
func (r *Rig) SafeStart(ctx context.Context) error {
	return r.moveJoints(ctx, r.cfg.SafeJointPositions.Start, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel)
}

// SafeEnd releases the tool and moves to the safe end posture at travel
// speed. It is attempted on every exit path, including aborts.
func (r *Rig) SafeEnd(ctx context.Context) error {
	if err := r.tool.ForceRelease(ctx); err != nil {
		return err
	}
	return r.moveJoints(ctx, r.cfg.SafeJointPositions.End, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel)
}

// Pick runs the pick sequence at the given pick frame: offset approach at
// travel speed, descent at picking speed, grip, the compression
// micro-move that seats the material, then lift-off back to the offset.
func (r *Rig) Pick(ctx context.Context, frame types.Frame) error {
	if r.cfg.Target == types.TargetVirtual {
		if err := r.controller.CustomInstruction(ctx, simCreateInstruction); err != nil {
			return err
		}
	}

	if err := r.controller.SetWorkObject(ctx, r.cfg.Wobjs.PickingWobjName); err != nil {
		return err
	}

	offset := frame.Offset(r.cfg.Movement.OffsetDistance)

	r.phase(types.RunStateTravel)
	if err := r.moveFrame(ctx, offset, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel); err != nil {
		return err
	}

	r.phase(types.RunStateApproach)
	if err := r.moveFrame(ctx, frame, r.cfg.Movement.SpeedPicking, r.cfg.Movement.ZonePick); err != nil {
		return err
	}

	r.phase(types.RunStatePicking)
	if err := r.dwellBeforeIO(ctx); err != nil {
		return err
	}
	if err := r.tool.Grip(ctx); err != nil {
		return err
	}

	// Pre-lift compression seats the gripped material.
	if compress := r.cfg.Movement.CompressAtPick; compress > 0 {
		if err := r.moveFrame(ctx, frame.Offset(-compress), r.cfg.Movement.SpeedPicking, r.cfg.Movement.ZonePick); err != nil {
			return err
		}
	}

	return r.moveFrame(ctx, offset, r.cfg.Movement.SpeedPicking, r.cfg.Movement.ZonePick)
}

// Place mirrors Pick: optional pre-taught travel frames, offset approach
// at travel speed, final placement at placing speed, release, retreat.
func (r *Rig) Place(ctx context.Context, elem *fabdata.Element) error {
	if err := r.controller.SetWorkObject(ctx, r.cfg.Wobjs.PlacingWobjName); err != nil {
		return err
	}

	top := elem.TopFrame()
	offset := top.Offset(r.cfg.Movement.OffsetDistance)

	r.phase(types.RunStateTravel)
	for _, waypoint := range elem.TrajectoryTo {
		if err := r.moveFrame(ctx, waypoint, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel); err != nil {
			return err
		}
	}
	if err := r.moveFrame(ctx, offset, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel); err != nil {
		return err
	}

	r.phase(types.RunStateApproach)
	if err := r.moveFrame(ctx, top, r.cfg.Movement.SpeedPlacing, r.cfg.Movement.ZonePlace); err != nil {
		return err
	}

	r.phase(types.RunStatePlacing)
	if err := r.dwellBeforeIO(ctx); err != nil {
		return err
	}
	if err := r.tool.Release(ctx); err != nil {
		return err
	}

	if err := r.moveFrame(ctx, offset, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel); err != nil {
		return err
	}
	for _, waypoint := range elem.TrajectoryFrom {
		if err := r.moveFrame(ctx, waypoint, r.cfg.Movement.SpeedTravel, r.cfg.Movement.ZoneTravel); err != nil {
			return err
		}
	}

	return nil
}

// dwellBeforeIO keeps the robot stationary for wait_before_io before an
// I/O transition is trusted. The simulator needs no dwell.
func (r *Rig) dwellBeforeIO(ctx context.Context) error {
	if r.cfg.Target == types.TargetVirtual {
		return nil
	}
	if wait := r.cfg.Tool.WaitBeforeIO.Duration(); wait > 0 {
		return r.controller.WaitTime(ctx, wait)
	}
	return nil
}
