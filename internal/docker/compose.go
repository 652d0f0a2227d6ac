// Package docker drives the containerized controller driver via docker compose
package docker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/types"
)

// robotIPs maps run targets to the controller address handed to the
// driver container. The virtual target points back at the host running
// the simulator.
var robotIPs = map[types.Target]string{
	types.TargetReal:    "192.168.125.1",
	types.TargetVirtual: "host.docker.internal",
}

// RobotIP resolves the controller address for a target. The ROBOT_IP
// environment variable overrides the built-in cell addresses.
func RobotIP(target types.Target) string {
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		return ip
	}
	return robotIPs[target]
}

// ComposeCLI implements interfaces.ComposeRunner by shelling out to the
// docker compose plugin, mirroring how the driver stack is started by
// hand.
type ComposeCLI struct {
	logger logger.Logger
}

var _ interfaces.ComposeRunner = (*ComposeCLI)(nil)

// NewComposeCLI creates a compose runner.
func NewComposeCLI(log logger.Logger) *ComposeCLI {
	return &ComposeCLI{logger: log}
}

// Up runs `docker compose up --detach` for the given compose file.
func (c *ComposeCLI) Up(ctx context.Context, opts interfaces.ComposeUpOptions) error {
	args := []string{"compose", "--file", opts.ComposeFile, "up", "--detach"}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}

	env := append(os.Environ(), "COMPOSE_IGNORE_ORPHANS=true")
	for key, value := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", strings.ToUpper(key), value))
	}

	return c.run(ctx, args, env)
}

// Down runs `docker compose down` for the given compose file.
func (c *ComposeCLI) Down(ctx context.Context, composeFile string) error {
	return c.run(ctx, []string{"compose", "--file", composeFile, "down"}, os.Environ())
}

func (c *ComposeCLI) run(ctx context.Context, args []string, env []string) error {
	c.logger.Debug("Running docker", logger.WithField("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		c.logger.Debug("docker output", logger.WithField("output", strings.TrimSpace(string(output))))
	}
	if err != nil {
		return fmt.Errorf("docker %s failed: %w", args[0], err)
	}
	return nil
}
