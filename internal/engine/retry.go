package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/types"
)

// retryingController decorates a controller with bounded retry of single
// motion commands. Retry policy lives here, in the orchestrator, because
// the motion layer surfaces every fault unjudged. Only motion commands
// are retried; setup and I/O commands pass through once.
type retryingController struct {
	interfaces.Controller
	retries int
	logger  logger.Logger
}

func newRetryingController(inner interfaces.Controller, retries int, log logger.Logger) *retryingController {
	return &retryingController{
		Controller: inner,
		retries:    retries,
		logger:     log,
	}
}

// isTransient reports whether a single-command failure is worth retrying.
// Cancellation is never transient; everything else from the controller
// side is treated as a possibly-flaky exchange.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *retryingController) retry(ctx context.Context, command string, send func() error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err = send()
		if err == nil {
			return nil
		}
		if !isTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt < c.retries {
			c.logger.Warn("Motion command faulted, retrying",
				logger.WithField("command", command),
				logger.WithField("attempt", attempt+1),
				logger.WithField("error", err))
		}
	}
	return err
}

// MoveToFrame implements interfaces.Controller
func (c *retryingController) MoveToFrame(ctx context.Context, frame types.Frame, speed float64, zone types.Zone) error {
	return c.retry(ctx, "MoveToFrame", func() error {
		return c.Controller.MoveToFrame(ctx, frame, speed, zone)
	})
}

// MoveToJoints implements interfaces.Controller
func (c *retryingController) MoveToJoints(ctx context.Context, joints types.JointPose, speed float64, zone types.Zone) error {
	return c.retry(ctx, "MoveToJoints", func() error {
		return c.Controller.MoveToJoints(ctx, joints, speed, zone)
	})
}

// Ping implements interfaces.Controller; reachability probes keep their
// own bounded-retry handling in the session manager.
func (c *retryingController) Ping(ctx context.Context, timeout time.Duration) error {
	return c.Controller.Ping(ctx, timeout)
}
