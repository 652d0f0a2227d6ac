package process_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/process"
)

func quietLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func TestStartStop(t *testing.T) {
	mgr := process.NewManager(quietLogger())

	runCtx := mgr.Start(context.Background())
	if !mgr.IsRunning() {
		t.Fatal("expected manager running after start")
	}
	if runCtx.Err() != nil {
		t.Fatal("expected live run context")
	}

	mgr.Stop()
	if mgr.IsRunning() {
		t.Error("expected manager stopped")
	}

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Error("expected run context cancelled on stop")
	}

	// Repeated stop is a no-op.
	mgr.Stop()
}

func TestStartPropagatesParentCancellation(t *testing.T) {
	mgr := process.NewManager(quietLogger())
	defer mgr.Stop()

	parent, cancel := context.WithCancel(context.Background())
	runCtx := mgr.Start(parent)

	cancel()

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Error("expected run context cancelled with its parent")
	}
}

func TestStartTwiceReturnsParent(t *testing.T) {
	mgr := process.NewManager(quietLogger())
	defer mgr.Stop()

	first := mgr.Start(context.Background())
	second := mgr.Start(context.Background())

	if first == nil || second == nil {
		t.Fatal("expected contexts from both starts")
	}
	if !mgr.IsRunning() {
		t.Error("expected manager still running")
	}
}
