// Package engine provides the fabrication run state machine
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rapidclay/fabrun/internal/session"
	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/motion"
	"github.com/rapidclay/fabrun/pkg/state"
	"github.com/rapidclay/fabrun/pkg/tool"
	"github.com/rapidclay/fabrun/pkg/types"
)

// DefaultMotionRetries bounds per-command retry of transient motion
// faults unless overridden in Options.
const DefaultMotionRetries = 2

// safeEndTimeout bounds the best-effort return to the safe end posture
// on abort, when the run context is already cancelled.
const safeEndTimeout = 2 * time.Minute

// Options tune run execution.
type Options struct {
	// MotionRetries is how often one motion command is retried on a
	// transient fault before the run aborts.
	MotionRetries int
}

// Dependencies carries the runner's collaborators.
type Dependencies struct {
	Sessions    *session.Manager
	PickStation *fabdata.PickStation
	Clock       interfaces.Clock

	// Optional collaborators.
	Progress interfaces.ProgressStore
	Notifier interfaces.RunNotifier
	State    *state.Manager
}

// Runner drives one fabrication run through its lifecycle: session open,
// safe start, the per-element pick/place loop, safe end, teardown. One
// blocking command is issued at a time; the physical robot is a single
// shared resource with no parallel access.
type Runner struct {
	cfg    *types.RunConfig
	logger logger.Logger
	deps   Dependencies
	opts   Options

	mu      sync.Mutex
	current types.RunState
	running bool
}

// New creates a runner.
func New(cfg *types.RunConfig, log logger.Logger, deps Dependencies, opts Options) *Runner {
	if deps.Sessions == nil {
		panic("session manager dependency is required")
	}
	if deps.PickStation == nil {
		panic("pick station dependency is required")
	}
	if deps.Clock == nil {
		deps.Clock = interfaces.SystemClock{}
	}
	if opts.MotionRetries <= 0 {
		opts.MotionRetries = DefaultMotionRetries
	}

	return &Runner{
		cfg:     cfg,
		logger:  log,
		deps:    deps,
		opts:    opts,
		current: types.RunStateIdle,
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() types.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Runner) setState(s types.RunState) {
	r.mu.Lock()
	if r.current.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.current = s
	r.mu.Unlock()

	if r.deps.State != nil {
		r.deps.State.SetStatus(s)
	}
	r.logger.Debug("Run state", logger.WithField("state", s))
}

// Run executes the fabrication sequence in the supplied order. It returns
// nil only when every element was placed and the robot finished at the
// safe end posture with the session torn down. On any failure or
// cancellation the robot is still brought toward the safe end posture and
// the session is closed before the error is surfaced.
func (r *Runner) Run(ctx context.Context, elements []*fabdata.Element) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("engine: a fabrication run is already in progress")
	}
	r.running = true
	r.current = types.RunStateIdle
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var record state.RunRecord
	if r.deps.State != nil {
		record = *r.deps.State.Begin(r.cfg.Target, len(elements))
		r.deps.State.StartHeartbeat(ctx)
		defer r.deps.State.StopHeartbeat()
	}
	runID := record.RunID

	r.logger.Info("Starting fabrication run",
		logger.WithField("run", runID),
		logger.WithField("elements", len(elements)),
		logger.WithField("target", r.cfg.Target))

	if r.deps.Notifier != nil {
		r.deps.Notifier.NotifyRunStart(runID, len(elements))
	}
	startedAt := r.deps.Clock.Now()

	sess, err := r.deps.Sessions.Open(ctx)
	if err != nil {
		return r.abort(nil, nil, runID, fmt.Errorf("session open failed: %w", err))
	}
	r.setState(types.RunStateSessionOpen)

	// Teardown is owned by this frame: every return path below goes
	// through finish or abort, both of which close the session.
	controller := newRetryingController(sess.Controller(), r.opts.MotionRetries, r.logger)
	coordinator := tool.NewCoordinator(controller, r.cfg.Tool, r.cfg.Target, r.logger)
	rig := motion.NewRig(controller, r.cfg, coordinator, r.logger)
	rig.OnPhase = r.setState

	if err := rig.Setup(ctx); err != nil {
		return r.abort(sess, rig, runID, fmt.Errorf("session setup failed: %w", err))
	}

	if err := rig.SafeStart(ctx); err != nil {
		return r.abort(sess, rig, runID, fmt.Errorf("safe start failed: %w", err))
	}
	r.setState(types.RunStateAtSafeStart)

	placed := 0
	for i, elem := range elements {
		// Operator aborts are only honored between discrete motion
		// primitives; the per-element boundary is the first of them.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.abort(sess, rig, runID, ctxErr)
		}

		if err := r.placeElement(ctx, rig, controller, elem, i, len(elements)); err != nil {
			return r.abort(sess, rig, runID, fmt.Errorf("element %s: %w", elem.ID, err))
		}

		placed++
		if r.deps.State != nil {
			r.deps.State.ElementPlaced()
		}
		if r.deps.Progress != nil {
			if err := r.deps.Progress.SaveProgress(elements); err != nil {
				r.logger.Warn("Failed to save progress", logger.WithField("error", err))
			}
		}
		if r.deps.Notifier != nil {
			r.deps.Notifier.NotifyElementPlaced(runID, placed, len(elements))
		}
	}

	if err := rig.SafeEnd(ctx); err != nil {
		return r.abort(sess, rig, runID, fmt.Errorf("safe end failed: %w", err))
	}
	r.setState(types.RunStateAtSafeEnd)

	if err := controller.PrintText(ctx, "Finished"); err != nil {
		r.logger.Debug("Failed to print finish message", logger.WithField("error", err))
	}

	if err := sess.Close(); err != nil {
		r.logger.Warn("Session teardown reported an error", logger.WithField("error", err))
	}
	r.setState(types.RunStateSessionClosed)
	r.setState(types.RunStateDone)

	duration := r.deps.Clock.Now().Sub(startedAt)
	r.logger.Success("Fabrication run complete",
		logger.WithField("placed", placed),
		logger.WithField("duration", duration.Round(time.Second)))
	if r.deps.Notifier != nil {
		r.deps.Notifier.NotifyRunComplete(runID, placed, duration)
	}

	return nil
}

// placeElement runs one atomic pick+place cycle.
func (r *Runner) placeElement(ctx context.Context, rig *motion.Rig, controller interfaces.Controller, elem *fabdata.Element, index, total int) error {
	elemLog := r.logger.WithElement(elem.ID)

	description := fmt.Sprintf("Element %03d/%03d", index+1, total)
	if err := controller.PrintText(ctx, description); err != nil {
		elemLog.Debug("Failed to print progress message", logger.WithField("error", err))
	}
	elemLog.Info("Placing element", logger.WithField("progress", description))

	cycleStart := r.deps.Clock.Now()

	pickFrame := r.deps.PickStation.Next(elem)
	if err := rig.Pick(ctx, pickFrame); err != nil {
		return fmt.Errorf("pick failed: %w", err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err := rig.Place(ctx, elem); err != nil {
		return fmt.Errorf("place failed: %w", err)
	}

	placedAt := r.deps.Clock.Now()
	elem.PlacedAt = &placedAt
	elem.CycleTime = types.Seconds(placedAt.Sub(cycleStart))
	elemLog.Debug("Cycle finished", logger.WithField("cycle_time", placedAt.Sub(cycleStart)))

	return nil
}

// abort drives the failure path: best-effort return to the safe end
// posture, guaranteed session teardown, then the causing error is
// surfaced. The safe-end motion runs on a fresh context because the run
// context may already be cancelled.
func (r *Runner) abort(sess *session.Session, rig *motion.Rig, runID string, cause error) error {
	r.logger.Error("Aborting fabrication run", logger.WithField("error", cause))

	if rig != nil {
		safeCtx, cancel := context.WithTimeout(context.Background(), safeEndTimeout)
		if err := rig.SafeEnd(safeCtx); err != nil {
			r.logger.Error("Best-effort safe end failed, robot posture unknown", logger.WithField("error", err))
		}
		cancel()
	}

	if sess != nil {
		if err := sess.Close(); err != nil {
			r.logger.Warn("Session teardown reported an error", logger.WithField("error", err))
		}
	}

	r.setState(types.RunStateAborted)
	if r.deps.State != nil {
		r.deps.State.SetError(cause)
	}
	if r.deps.Notifier != nil {
		r.deps.Notifier.NotifyRunAborted(runID, cause)
	}

	return cause
}
