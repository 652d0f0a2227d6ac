// Package controller provides the simulated robot controller
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/types"
)

// Instruction is one recorded request/acknowledge exchange with the
// simulated controller.
type Instruction struct {
	Name   string
	Frame  *types.Frame
	Joints *types.JointPose
	Speed  float64
	Zone   types.Zone
	Pin    string
	State  int
	Wait   time.Duration
	Text   string
}

// Sim is an in-memory controller for the virtual target. It records the
// full instruction stream and acknowledges every command immediately,
// with optional per-command error injection for exercising fault paths.
type Sim struct {
	mu           sync.Mutex
	instructions []Instruction
	queuedErrs   map[string][]error
	closed       bool
}

var _ interfaces.Controller = (*Sim)(nil)

// NewSim creates a simulated controller.
func NewSim() *Sim {
	return &Sim{
		queuedErrs: make(map[string][]error),
	}
}

// QueueError arranges for the next calls of the named command to return
// the given errors in order. A nil entry acknowledges normally.
func (s *Sim) QueueError(command string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedErrs[command] = append(s.queuedErrs[command], errs...)
}

// Instructions returns a copy of the recorded instruction stream.
func (s *Sim) Instructions() []Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Instruction, len(s.instructions))
	copy(out, s.instructions)
	return out
}

// CommandNames returns the recorded command names in order, a compact
// form for asserting choreography.
func (s *Sim) CommandNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.instructions))
	for i, instr := range s.instructions {
		names[i] = instr.Name
	}
	return names
}

// Closed reports whether Close has been called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// record appends the instruction and pops any injected error for it.
func (s *Sim) record(ctx context.Context, instr Instruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.instructions = append(s.instructions, instr)

	queue := s.queuedErrs[instr.Name]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.queuedErrs[instr.Name] = queue[1:]
	return err
}

// Ping implements interfaces.Controller
func (s *Sim) Ping(ctx context.Context, timeout time.Duration) error {
	return s.record(ctx, Instruction{Name: "Ping", Wait: timeout})
}

// SetTool implements interfaces.Controller
func (s *Sim) SetTool(ctx context.Context, toolName string) error {
	return s.record(ctx, Instruction{Name: "SetTool", Text: toolName})
}

// SetWorkObject implements interfaces.Controller
func (s *Sim) SetWorkObject(ctx context.Context, wobjName string) error {
	return s.record(ctx, Instruction{Name: "SetWorkObject", Text: wobjName})
}

// SetAcceleration implements interfaces.Controller
func (s *Sim) SetAcceleration(ctx context.Context, accel, ramp float64) error {
	return s.record(ctx, Instruction{Name: "SetAcceleration", Speed: accel, State: int(ramp)})
}

// SetMaxSpeed implements interfaces.Controller
func (s *Sim) SetMaxSpeed(ctx context.Context, override, maxTCP float64) error {
	return s.record(ctx, Instruction{Name: "SetMaxSpeed", Speed: maxTCP, State: int(override)})
}

// MoveToFrame implements interfaces.Controller
func (s *Sim) MoveToFrame(ctx context.Context, frame types.Frame, speed float64, zone types.Zone) error {
	return s.record(ctx, Instruction{Name: "MoveToFrame", Frame: &frame, Speed: speed, Zone: zone})
}

// MoveToJoints implements interfaces.Controller
func (s *Sim) MoveToJoints(ctx context.Context, joints types.JointPose, speed float64, zone types.Zone) error {
	return s.record(ctx, Instruction{Name: "MoveToJoints", Joints: &joints, Speed: speed, Zone: zone})
}

// SetDigital implements interfaces.Controller
func (s *Sim) SetDigital(ctx context.Context, pin string, state int) error {
	return s.record(ctx, Instruction{Name: "SetDigital", Pin: pin, State: state})
}

// WaitTime implements interfaces.Controller
func (s *Sim) WaitTime(ctx context.Context, d time.Duration) error {
	return s.record(ctx, Instruction{Name: "WaitTime", Wait: d})
}

// CustomInstruction implements interfaces.Controller
func (s *Sim) CustomInstruction(ctx context.Context, name string) error {
	return s.record(ctx, Instruction{Name: "CustomInstruction", Text: name})
}

// PrintText implements interfaces.Controller
func (s *Sim) PrintText(ctx context.Context, message string) error {
	return s.record(ctx, Instruction{Name: "PrintText", Text: message})
}

// Close implements interfaces.Controller. Safe to call repeatedly.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SimDialer hands out a fixed simulated controller, or a fresh one per
// Dial when none is given.
type SimDialer struct {
	Sim *Sim
}

var _ interfaces.ControllerDialer = (*SimDialer)(nil)

// Dial implements interfaces.ControllerDialer
func (d *SimDialer) Dial(ctx context.Context, target types.Target) (interfaces.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Sim != nil {
		return d.Sim, nil
	}
	return NewSim(), nil
}
