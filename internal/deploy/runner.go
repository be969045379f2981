// Package deploy wraps the external deployment tooling (service control,
// smoke tests, backup creation) behind a narrow contract: each operation is
// an opaque command invocation reporting success or failure plus output.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServiceRunner is the contract the rollback controller and CLI depend on.
// Implementations run the external collaborators; tests substitute fakes.
type ServiceRunner interface {
	StopServices(ctx context.Context) error
	StartServices(ctx context.Context) error
	RunSmokeTests(ctx context.Context, environment string) error
	Reinstall(ctx context.Context, command string) error
}

// Commands configures the external operations as shell command lines. Empty
// entries make the corresponding operation a no-op that succeeds.
type Commands struct {
	Stop      string
	Start     string
	SmokeTest string
	Reinstall string

	// WorkDir is the deployment tree the commands run from.
	WorkDir string
	// Timeout bounds each invocation. Zero means 5 minutes.
	Timeout time.Duration
}

// ExecRunner invokes the configured commands through the shell.
type ExecRunner struct {
	cmds   Commands
	logger *zap.Logger
}

// NewExecRunner creates a runner for the configured commands.
func NewExecRunner(cmds Commands, logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cmds.Timeout <= 0 {
		cmds.Timeout = 5 * time.Minute
	}
	return &ExecRunner{cmds: cmds, logger: logger.Named("deploy")}
}

// run executes one command line, returning its combined output on failure.
func (r *ExecRunner) run(ctx context.Context, name, command string) error {
	if strings.TrimSpace(command) == "" {
		r.logger.Debug("no command configured, skipping", zap.String("operation", name))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cmds.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.cmds.WorkDir != "" {
		cmd.Dir = r.cmds.WorkDir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	r.logger.Info("external operation finished",
		zap.String("operation", name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil))

	if err != nil {
		detail := strings.TrimSpace(out.String())
		if detail == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, truncate(detail, 512))
	}
	return nil
}

// StopServices stops the environment's services. Callers treat failure as a
// warning; there may be nothing running.
func (r *ExecRunner) StopServices(ctx context.Context) error {
	return r.run(ctx, "stop-services", r.cmds.Stop)
}

// StartServices starts the environment's services. Failure here leaves the
// environment down and must be surfaced prominently by the caller.
func (r *ExecRunner) StartServices(ctx context.Context) error {
	return r.run(ctx, "start-services", r.cmds.Start)
}

// RunSmokeTests runs the post-restore verification suite.
func (r *ExecRunner) RunSmokeTests(ctx context.Context, environment string) error {
	return r.run(ctx, "smoke-tests", r.cmds.SmokeTest)
}

// Reinstall re-establishes the dependency set. The command recorded in the
// backup manifest wins over the configured default.
func (r *ExecRunner) Reinstall(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		command = r.cmds.Reinstall
	}
	return r.run(ctx, "reinstall-dependencies", command)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
