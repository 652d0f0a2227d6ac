package motion_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/rapidclay/fabrun/internal/controller"
	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/motion"
	"github.com/rapidclay/fabrun/pkg/tool"
	"github.com/rapidclay/fabrun/pkg/types"
)

func testConfig(target types.Target) *types.RunConfig {
	ramp := types.DefaultAccelRamp
	return &types.RunConfig{
		Target: target,
		Movement: types.MovementParams{
			OffsetDistance: 120,
			SpeedPlacing:   80,
			SpeedPicking:   100,
			SpeedTravel:    400,
			ZonePick:       types.Zone{Name: "Z10", Radius: 10},
			ZonePlace:      types.ZoneFine,
			ZoneTravel:     types.Zone{Name: "Z30", Radius: 30},
			CompressAtPick: 5,
		},
		SafeJointPositions: types.SafeJointPositions{
			Start: types.JointPose{0, -20, 40, 0, 70, 0},
			End:   types.JointPose{0, -20, 40, 0, 70, 90},
		},
		SpeedValues: types.SpeedValues{
			SpeedOverride: 100,
			SpeedMaxTCP:   500,
			Accel:         100,
			AccelRamp:     &ramp,
		},
		Tool: types.ToolParams{
			ToolName:     "t_RS_ClayTool",
			IONeedlesPin: "doDNetGripper",
			GripState:    1,
			ReleaseState: 0,
			WaitBeforeIO: types.Seconds(2 * time.Second),
			WaitAfterIO:  types.Seconds(500 * time.Millisecond),
		},
		Wobjs: types.WorkObjects{
			PickingWobjName: "wobj_pick",
			PlacingWobjName: "wobj_place",
		},
	}
}

func newRig(sim *controller.Sim, cfg *types.RunConfig) *motion.Rig {
	log := logger.CreateLoggerWithOutput("error", io.Discard)
	coord := tool.NewCoordinator(sim, cfg.Tool, cfg.Target, log)
	return motion.NewRig(sim, cfg, coord, log)
}

func pickFrame() types.Frame {
	return types.Frame{
		Point: types.Vec3{800, -400, 150},
		XAxis: types.Vec3{1, 0, 0},
		YAxis: types.Vec3{0, 1, 0},
	}
}

func TestSetupSendsSessionGlobals(t *testing.T) {
	sim := controller.NewSim()
	rig := newRig(sim, testConfig(types.TargetReal))

	if err := rig.Setup(context.Background()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	want := []string{"SetDigital", "WaitTime", "SetTool", "SetWorkObject", "SetAcceleration", "SetMaxSpeed"}
	if got := sim.CommandNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected setup sequence:\n got %v\nwant %v", got, want)
	}

	instrs := sim.Instructions()
	if instrs[2].Text != "t_RS_ClayTool" {
		t.Errorf("expected configured tool, got %q", instrs[2].Text)
	}
	if instrs[3].Text != "wobj_place" {
		t.Errorf("expected placing work object, got %q", instrs[3].Text)
	}
}

func TestPickSequenceRealTarget(t *testing.T) {
	cfg := testConfig(types.TargetReal)
	sim := controller.NewSim()
	rig := newRig(sim, cfg)

	frame := pickFrame()
	if err := rig.Pick(context.Background(), frame); err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	want := []string{
		"SetWorkObject", // picking wobj
		"MoveToFrame",   // offset approach at travel speed
		"MoveToFrame",   // descent at picking speed
		"WaitTime",      // wait_before_io
		"SetDigital",    // grip
		"WaitTime",      // wait_after_io
		"MoveToFrame",   // compression
		"MoveToFrame",   // lift-off
	}
	if got := sim.CommandNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected pick sequence:\n got %v\nwant %v", got, want)
	}

	instrs := sim.Instructions()

	offset := frame.Offset(cfg.Movement.OffsetDistance)
	if *instrs[1].Frame != offset || instrs[1].Speed != cfg.Movement.SpeedTravel {
		t.Errorf("unexpected offset approach: %+v", instrs[1])
	}
	if *instrs[2].Frame != frame || instrs[2].Speed != cfg.Movement.SpeedPicking {
		t.Errorf("unexpected descent: %+v", instrs[2])
	}

	compressed := frame.Offset(-cfg.Movement.CompressAtPick)
	if *instrs[6].Frame != compressed {
		t.Errorf("expected compression to %v, got %v", compressed.Point, instrs[6].Frame.Point)
	}
	if *instrs[7].Frame != offset {
		t.Errorf("expected lift-off back to offset, got %v", instrs[7].Frame.Point)
	}
}

func TestPickSkipsCompressionWhenZero(t *testing.T) {
	cfg := testConfig(types.TargetReal)
	cfg.Movement.CompressAtPick = 0
	sim := controller.NewSim()
	rig := newRig(sim, cfg)

	if err := rig.Pick(context.Background(), pickFrame()); err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	moves := 0
	for _, name := range sim.CommandNames() {
		if name == "MoveToFrame" {
			moves++
		}
	}
	if moves != 3 {
		t.Errorf("expected 3 frame moves without compression, got %d", moves)
	}
}

func TestPickVirtualTargetCreatesElement(t *testing.T) {
	cfg := testConfig(types.TargetVirtual)
	sim := controller.NewSim()
	rig := newRig(sim, cfg)

	if err := rig.Pick(context.Background(), pickFrame()); err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	names := sim.CommandNames()
	if names[0] != "CustomInstruction" {
		t.Fatalf("expected element creation first, got %v", names)
	}
	if sim.Instructions()[0].Text != "r_RS_CreateElement" {
		t.Errorf("unexpected creation instruction: %q", sim.Instructions()[0].Text)
	}

	// The simulator needs no dwell around I/O.
	for _, name := range names {
		if name == "WaitTime" {
			t.Errorf("virtual pick must not dwell, got %v", names)
		}
		if name == "SetDigital" {
			t.Errorf("virtual pick must not touch digital I/O, got %v", names)
		}
	}
}

func TestPlaceSequence(t *testing.T) {
	cfg := testConfig(types.TargetReal)
	sim := controller.NewSim()
	rig := newRig(sim, cfg)
	ctx := context.Background()

	// Place releases, so the tool must be gripped first.
	if err := rig.Tool().Grip(ctx); err != nil {
		t.Fatalf("grip failed: %v", err)
	}
	gripCommands := len(sim.Instructions())

	elem := &fabdata.Element{
		ID: "elem-1",
		Location: types.Frame{
			Point: types.Vec3{200, 300, 0},
			XAxis: types.Vec3{1, 0, 0},
			YAxis: types.Vec3{0, 1, 0},
		},
		Height: 40,
		TrajectoryTo: []types.Frame{
			{Point: types.Vec3{500, 0, 600}, XAxis: types.Vec3{1, 0, 0}, YAxis: types.Vec3{0, 1, 0}},
		},
		TrajectoryFrom: []types.Frame{
			{Point: types.Vec3{500, 0, 700}, XAxis: types.Vec3{1, 0, 0}, YAxis: types.Vec3{0, 1, 0}},
		},
	}

	if err := rig.Place(ctx, elem); err != nil {
		t.Fatalf("place failed: %v", err)
	}

	want := []string{
		"SetWorkObject", // placing wobj
		"MoveToFrame",   // trajectory_to waypoint
		"MoveToFrame",   // offset approach
		"MoveToFrame",   // final placement
		"WaitTime",      // wait_before_io
		"SetDigital",    // release
		"WaitTime",      // wait_after_io
		"MoveToFrame",   // retreat
		"MoveToFrame",   // trajectory_from waypoint
	}
	got := sim.CommandNames()[gripCommands:]
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected place sequence:\n got %v\nwant %v", got, want)
	}

	instrs := sim.Instructions()[gripCommands:]

	top := elem.TopFrame()
	if *instrs[3].Frame != top || instrs[3].Speed != cfg.Movement.SpeedPlacing {
		t.Errorf("unexpected final placement move: %+v", instrs[3])
	}
	if instrs[3].Zone != cfg.Movement.ZonePlace {
		t.Errorf("expected placement zone %s, got %s", cfg.Movement.ZonePlace, instrs[3].Zone)
	}

	offset := top.Offset(cfg.Movement.OffsetDistance)
	if *instrs[2].Frame != offset || instrs[2].Speed != cfg.Movement.SpeedTravel {
		t.Errorf("unexpected offset approach: %+v", instrs[2])
	}
	if *instrs[7].Frame != offset {
		t.Errorf("expected retreat to offset frame, got %v", instrs[7].Frame.Point)
	}
}

func TestMotionFaultCarriesCommand(t *testing.T) {
	cfg := testConfig(types.TargetReal)
	sim := controller.NewSim()
	faulted := errors.New("joint limit")
	sim.QueueError("MoveToJoints", faulted)
	rig := newRig(sim, cfg)

	err := rig.SafeStart(context.Background())
	var fault *motion.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected motion fault, got %v", err)
	}
	if !errors.Is(err, faulted) {
		t.Errorf("fault must wrap the controller error, got %v", err)
	}
}

func TestPhaseCallback(t *testing.T) {
	cfg := testConfig(types.TargetReal)
	sim := controller.NewSim()
	rig := newRig(sim, cfg)

	var phases []types.RunState
	rig.OnPhase = func(s types.RunState) { phases = append(phases, s) }

	if err := rig.Pick(context.Background(), pickFrame()); err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	want := []types.RunState{types.RunStateTravel, types.RunStateApproach, types.RunStatePicking}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("unexpected phases:\n got %v\nwant %v", phases, want)
	}
}
