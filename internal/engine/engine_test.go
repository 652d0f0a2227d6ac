package engine_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rapidclay/fabrun/internal/controller"
	"github.com/rapidclay/fabrun/internal/engine"
	"github.com/rapidclay/fabrun/internal/session"
	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/motion"
	"github.com/rapidclay/fabrun/pkg/types"
)

func runConfig() *types.RunConfig {
	ramp := types.DefaultAccelRamp
	return &types.RunConfig{
		Target: types.TargetVirtual,
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
		},
		Wobjs: types.WorkObjects{
			PickingWobjName: "wobj_pick",
			PlacingWobjName: "wobj_place",
		},
		Docker: types.DockerParams{
			TimeoutPing: types.Seconds(10 * time.Second),
		},
	}
}

func quietLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func testElements(n int) []*fabdata.Element {
	elements := make([]*fabdata.Element, n)
	for i := range elements {
		elements[i] = &fabdata.Element{
			ID: string(rune('a' + i)),
			Location: types.Frame{
				Point: types.Vec3{200, 300, float64(i) * 40},
				XAxis: types.Vec3{1, 0, 0},
				YAxis: types.Vec3{0, 1, 0},
			},
			Height: 40,
		}
	}
	return elements
}

func testPickStation(t *testing.T) *fabdata.PickStation {
	t.Helper()
	station, err := fabdata.NewPickStation([]types.Frame{
		{Point: types.Vec3{800, -400, 0}, XAxis: types.Vec3{1, 0, 0}, YAxis: types.Vec3{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("failed to build pick station: %v", err)
	}
	return station
}

func newRunner(t *testing.T, cfg *types.RunConfig, sim *controller.Sim) *engine.Runner {
	t.Helper()
	log := quietLogger()
	sessions := session.NewManager(cfg, nil, &controller.SimDialer{Sim: sim}, noopClock{}, log)
	return engine.New(cfg, log, engine.Dependencies{
		Sessions:    sessions,
		PickStation: testPickStation(t),
		Clock:       noopClock{},
	}, engine.Options{})
}

// noopClock skips real sleeps so tests run instantly.
type noopClock struct{}

func (noopClock) Now() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
func (noopClock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestRunPlacesSingleElement(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	runner := newRunner(t, cfg, sim)
	elements := testElements(1)

	if err := runner.Run(context.Background(), elements); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{
		"Ping",              // session reachability
		"CustomInstruction", // setup force release
		"SetTool",
		"SetWorkObject", // placing wobj
		"SetAcceleration",
		"SetMaxSpeed",
		"MoveToJoints",      // safe start
		"PrintText",         // element progress message
		"CustomInstruction", // create simulated element
		"SetWorkObject",     // picking wobj
		"MoveToFrame",       // pick offset at travel speed
		"MoveToFrame",       // descent
		"CustomInstruction", // grip
		"MoveToFrame",       // compression
		"MoveToFrame",       // lift-off
		"SetWorkObject",     // placing wobj
		"MoveToFrame",       // place offset
		"MoveToFrame",       // final placement
		"CustomInstruction", // release
		"MoveToFrame",       // retreat
		"CustomInstruction", // safe end force release
		"MoveToJoints",      // safe end
		"PrintText",         // finished message
	}
	if got := sim.CommandNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected command sequence:\n got %v\nwant %v", got, want)
	}

	if runner.State() != types.RunStateDone {
		t.Errorf("expected done state, got %s", runner.State())
	}
	if !sim.Closed() {
		t.Error("expected session torn down at the end of the run")
	}
	if !elements[0].Placed() {
		t.Error("expected element marked placed")
	}
}

func TestRunPlacesAllElementsInOrder(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	runner := newRunner(t, cfg, sim)
	elements := testElements(3)

	if err := runner.Run(context.Background(), elements); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for i, elem := range elements {
		if !elem.Placed() {
			t.Errorf("element %d not marked placed", i)
		}
	}

	// Three progress messages plus the finish message.
	prints := 0
	for _, instr := range sim.Instructions() {
		if instr.Name == "PrintText" {
			prints++
		}
	}
	if prints != 4 {
		t.Errorf("expected 4 pendant messages, got %d", prints)
	}
}

func TestRunAbortsOnPersistentMotionFault(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	limit := errors.New("joint limit")
	// One fault per attempt: the default retry budget is exhausted.
	sim.QueueError("MoveToJoints", limit, limit, limit)
	runner := newRunner(t, cfg, sim)

	err := runner.Run(context.Background(), testElements(1))
	if err == nil {
		t.Fatal("expected run to fail")
	}
	var fault *motion.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected motion fault, got %v", err)
	}

	if runner.State() != types.RunStateAborted {
		t.Errorf("expected aborted state, got %s", runner.State())
	}
	if !sim.Closed() {
		t.Error("expected session torn down on abort")
	}

	// The abort path still tries to reach the safe end posture.
	names := sim.CommandNames()
	if names[len(names)-1] != "MoveToJoints" {
		t.Errorf("expected final command to be the safe end move, got %v", names)
	}
}

func TestRunAbortsOnFaultDuringPlacement(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	limit := errors.New("joint limit")
	// The pick sequence's four frame moves are acknowledged; the place
	// approach then faults through the whole retry budget.
	sim.QueueError("MoveToFrame", nil, nil, nil, nil, limit, limit, limit)

	counting := &closeCountingController{Sim: sim}
	log := quietLogger()
	sessions := session.NewManager(cfg, nil, fixedDialer{controller: counting}, noopClock{}, log)
	runner := engine.New(cfg, log, engine.Dependencies{
		Sessions:    sessions,
		PickStation: testPickStation(t),
		Clock:       noopClock{},
	}, engine.Options{})

	elements := testElements(1)
	err := runner.Run(context.Background(), elements)
	if err == nil {
		t.Fatal("expected run to fail")
	}
	var fault *motion.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected motion fault, got %v", err)
	}
	if !errors.Is(err, limit) {
		t.Fatalf("fault must wrap the controller error, got %v", err)
	}

	if runner.State() != types.RunStateAborted {
		t.Errorf("expected aborted state, got %s", runner.State())
	}
	if elements[0].Placed() {
		t.Error("expected element left unplaced after aborted placement")
	}

	// Teardown happens exactly once, never repeated by the abort path.
	if got := atomic.LoadInt32(&counting.closes); got != 1 {
		t.Errorf("expected session closed exactly once, got %d", got)
	}

	// The pick completed (the tool gripped) before the fault, and the
	// abort still drove the robot to the safe end posture.
	instrs := sim.Instructions()
	gripped := false
	for _, instr := range instrs {
		if instr.Name == "CustomInstruction" && instr.Text == "r_RS_ToolGrip" {
			gripped = true
		}
	}
	if !gripped {
		t.Error("expected the grip to have happened before the place fault")
	}
	if instrs[len(instrs)-1].Name != "MoveToJoints" {
		t.Errorf("expected final command to be the safe end move, got %v", sim.CommandNames())
	}
}

// closeCountingController counts Close calls on top of the simulated
// controller.
type closeCountingController struct {
	*controller.Sim
	closes int32
}

func (c *closeCountingController) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return c.Sim.Close()
}

type fixedDialer struct {
	controller interfaces.Controller
}

func (d fixedDialer) Dial(ctx context.Context, target types.Target) (interfaces.Controller, error) {
	return d.controller, nil
}

func TestRunRetriesTransientMotionFault(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	sim.QueueError("MoveToFrame", errors.New("spurious fault"))
	runner := newRunner(t, cfg, sim)
	elements := testElements(1)

	if err := runner.Run(context.Background(), elements); err != nil {
		t.Fatalf("expected transient fault absorbed, run failed: %v", err)
	}
	if runner.State() != types.RunStateDone {
		t.Errorf("expected done state, got %s", runner.State())
	}
	if !elements[0].Placed() {
		t.Error("expected element placed despite the transient fault")
	}
}

func TestRunAbortsOnCancelledContext(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()
	runner := newRunner(t, cfg, sim)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx, testElements(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if runner.State() != types.RunStateAborted {
		t.Errorf("expected aborted state, got %s", runner.State())
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	cfg := runConfig()
	sim := controller.NewSim()

	// Hold the run open on a controller that blocks until released.
	gate := make(chan struct{})
	blocking := &gatedController{Sim: sim, gate: gate, entered: make(chan struct{})}

	log := quietLogger()
	sessions := session.NewManager(cfg, nil, &gatedDialer{controller: blocking}, noopClock{}, log)
	runner := engine.New(cfg, log, engine.Dependencies{
		Sessions:    sessions,
		PickStation: testPickStation(t),
		Clock:       noopClock{},
	}, engine.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		_ = runner.Run(context.Background(), testElements(1))
	}()

	<-started
	<-blocking.entered

	if err := runner.Run(context.Background(), testElements(1)); err == nil {
		t.Error("expected second concurrent run to be rejected")
	}

	close(gate)
	wg.Wait()
}

// gatedController blocks the first SetTool call so a run can be held
// mid-flight.
type gatedController struct {
	*controller.Sim
	gate    chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (g *gatedController) SetTool(ctx context.Context, toolName string) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.Sim.SetTool(ctx, toolName)
}

type gatedDialer struct {
	controller *gatedController
}

func (d *gatedDialer) Dial(ctx context.Context, target types.Target) (interfaces.Controller, error) {
	return d.controller, nil
}
