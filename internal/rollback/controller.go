// Package rollback implements the multi-phase recovery procedure: verify
// the chosen backup, snapshot the current state, stop services, restore
// files, reinstall dependencies, restart, and verify.
package rollback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/failsafe-dev/failsafe/internal/backup"
	"github.com/failsafe-dev/failsafe/internal/deploy"
)

// Config configures a rollback controller.
type Config struct {
	// DeployDir is the live deployment tree the backup is restored over.
	DeployDir string
	// SnapshotDir receives emergency snapshots; defaults to DeployDir's
	// parent.
	SnapshotDir string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DeployDir == "" {
		return fmt.Errorf("deploy directory is required")
	}
	return nil
}

// Controller executes rollback requests. At most one execution runs at a
// time; the caller enforces that, matching the single-session design of the
// monitor.
type Controller struct {
	cfg       Config
	verifier  *backup.Verifier
	runner    deploy.ServiceRunner
	confirmer Confirmer
	logger    *zap.Logger
}

// NewController creates a rollback controller. A nil confirmer means
// non-interactive mode: safety-gate prompts are skipped with a warning.
func NewController(cfg Config, verifier *backup.Verifier, runner deploy.ServiceRunner, confirmer Confirmer, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("service runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Dir(cfg.DeployDir)
	}
	return &Controller{
		cfg:       cfg,
		verifier:  verifier,
		runner:    runner,
		confirmer: confirmer,
		logger:    logger.Named("rollback"),
	}, nil
}

// Execute runs the recovery procedure for req. The returned execution always
// carries the ordered phase results and an outcome; the error is non-nil
// exactly when the outcome is Failed or Aborted, so callers can wrap it.
//
// The source artifact is read-only throughout: only the emergency snapshot
// and the live deployment tree are mutated.
func (c *Controller) Execute(ctx context.Context, req Request) (*Execution, error) {
	exec := &Execution{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now(),
	}
	defer func() { exec.FinishedAt = time.Now() }()

	log := c.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("environment", req.Environment),
	)
	if req.Artifact != nil {
		log = log.With(zap.String("artifact", req.Artifact.Path))
	}
	log.Info("rollback starting", zap.String("reason", req.Reason), zap.Bool("force", req.Force))

	if req.Artifact == nil {
		exec.record(PhaseVerifyIntegrity, PhaseFailed, time.Now(), "no backup artifact in request")
		return c.finish(exec, log, OutcomeAborted, PhaseVerifyIntegrity)
	}

	// Phase 1: VerifyIntegrity. Failure without force halts before any
	// mutation has occurred.
	started := time.Now()
	result, err := c.verifier.Verify(req.Artifact)
	if err != nil {
		exec.record(PhaseVerifyIntegrity, PhaseFailed, started, err.Error())
		return c.finish(exec, log, OutcomeAborted, PhaseVerifyIntegrity)
	}
	if !result.OK {
		if !req.Force {
			exec.record(PhaseVerifyIntegrity, PhaseFailed, started, result.Reason)
			log.Error("backup verification failed, refusing to roll back", zap.String("reason", result.Reason))
			return c.finish(exec, log, OutcomeAborted, PhaseVerifyIntegrity)
		}
		exec.record(PhaseVerifyIntegrity, PhaseWarning, started, "forced past: "+result.Reason)
		log.Warn("backup verification bypassed by force flag", zap.String("reason", result.Reason))
	} else {
		exec.record(PhaseVerifyIntegrity, PhaseSuccess, started, result.Reason)
	}

	// Phase 2: SafetyCheck. Local modifications gate on operator
	// confirmation; force or non-interactive mode proceeds with a warning.
	started = time.Now()
	changes := localChanges(ctx, c.cfg.DeployDir, artifactTime(req.Artifact))
	switch {
	case len(changes) == 0:
		exec.record(PhaseSafetyCheck, PhaseSuccess, started, "no local modifications")
	case req.Force:
		exec.record(PhaseSafetyCheck, PhaseWarning, started,
			fmt.Sprintf("%d local modifications overridden by force", len(changes)))
		log.Warn("local modifications will be overwritten", zap.Strings("paths", changes))
	case c.confirmer != nil:
		prompt := fmt.Sprintf("%d local modifications will be overwritten (e.g. %s). Continue?",
			len(changes), changes[0])
		if !c.confirmer.Confirm(prompt) {
			exec.record(PhaseSafetyCheck, PhaseFailed, started, "operator declined")
			return c.finish(exec, log, OutcomeAborted, PhaseSafetyCheck)
		}
		exec.record(PhaseSafetyCheck, PhaseWarning, started,
			fmt.Sprintf("%d local modifications confirmed by operator", len(changes)))
	default:
		exec.record(PhaseSafetyCheck, PhaseWarning, started,
			fmt.Sprintf("%d local modifications, proceeding non-interactively", len(changes)))
		log.Warn("proceeding past local modifications without confirmation", zap.Strings("paths", changes))
	}

	// Phase 3: EmergencySnapshot. Best-effort: the verified target backup
	// is already trusted, so a failed snapshot is a warning, not fatal.
	started = time.Now()
	snapshotPath := filepath.Join(c.cfg.SnapshotDir,
		fmt.Sprintf("emergency-%s.tar.gz", time.Now().UTC().Format("20060102T150405Z")))
	if err := os.MkdirAll(c.cfg.SnapshotDir, 0o755); err != nil {
		exec.record(PhaseEmergencySnapshot, PhaseWarning, started, err.Error())
		log.Warn("emergency snapshot skipped", zap.Error(err))
	} else if err := backup.CreateArchive(c.cfg.DeployDir, snapshotPath); err != nil {
		exec.record(PhaseEmergencySnapshot, PhaseWarning, started, err.Error())
		log.Warn("emergency snapshot failed", zap.Error(err))
	} else {
		exec.SnapshotPath = snapshotPath
		exec.record(PhaseEmergencySnapshot, PhaseSuccess, started, snapshotPath)
		log.Info("emergency snapshot written", zap.String("path", snapshotPath))
	}

	// Phase 4: StopServices. Non-fatal; there may be nothing running.
	started = time.Now()
	if err := c.runner.StopServices(ctx); err != nil {
		exec.record(PhaseStopServices, PhaseWarning, started, err.Error())
		log.Warn("stop services failed", zap.Error(err))
	} else {
		exec.record(PhaseStopServices, PhaseSuccess, started, "")
	}

	// Phase 5: RestoreFiles. First destructive phase: failure past this
	// point leaves a partially-restored tree and is fatal.
	started = time.Now()
	if err := backup.ExtractArchive(req.Artifact.Path, c.cfg.DeployDir); err != nil {
		exec.record(PhaseRestoreFiles, PhaseFailed, started, err.Error())
		log.Error("restore failed, environment may be partially restored",
			zap.Error(err),
			zap.String("emergency_snapshot", exec.SnapshotPath))
		return c.finish(exec, log, OutcomeFailed, PhaseRestoreFiles)
	}
	exec.record(PhaseRestoreFiles, PhaseSuccess, started, "")

	// Phase 6: ReinstallDependencies. Fatal on failure: the restored code
	// may not run without its matching dependency set.
	started = time.Now()
	if err := c.runner.Reinstall(ctx, installCommand(req.Artifact)); err != nil {
		exec.record(PhaseReinstallDependencies, PhaseFailed, started, err.Error())
		log.Error("dependency reinstall failed", zap.Error(err),
			zap.String("emergency_snapshot", exec.SnapshotPath))
		return c.finish(exec, log, OutcomeFailed, PhaseReinstallDependencies)
	}
	exec.record(PhaseReinstallDependencies, PhaseSuccess, started, "")

	// Phase 7: StartServices. Failure leaves the environment down.
	started = time.Now()
	if err := c.runner.StartServices(ctx); err != nil {
		exec.record(PhaseStartServices, PhaseFailed, started, err.Error())
		log.Error("service start failed, environment is down", zap.Error(err),
			zap.String("emergency_snapshot", exec.SnapshotPath))
		return c.finish(exec, log, OutcomeFailed, PhaseStartServices)
	}
	exec.record(PhaseStartServices, PhaseSuccess, started, "")

	// Phase 8: PostVerify. Failure is distinctly reported but there is no
	// second-order rollback: the restore itself stands.
	started = time.Now()
	if err := c.runner.RunSmokeTests(ctx, req.Environment); err != nil {
		exec.record(PhasePostVerify, PhaseFailed, started, err.Error())
		log.Warn("rollback completed, verification failed, manual check required", zap.Error(err))
		exec.Outcome = OutcomeCompletedWithWarnings
		return exec, nil
	}
	exec.record(PhasePostVerify, PhaseSuccess, started, "")

	exec.Outcome = OutcomeSuccess
	log.Info("rollback completed", zap.Duration("elapsed", time.Since(exec.StartedAt)))
	return exec, nil
}

// finish stamps a terminal outcome and builds the caller-facing error.
func (c *Controller) finish(exec *Execution, log *zap.Logger, outcome Outcome, phase PhaseName) (*Execution, error) {
	exec.Outcome = outcome
	exec.FailedPhase = phase

	detail := ""
	if p, ok := exec.Phase(phase); ok {
		detail = p.Detail
	}
	log.Error("rollback did not complete",
		zap.String("outcome", string(outcome)),
		zap.String("phase", string(phase)),
		zap.String("detail", detail))
	return exec, fmt.Errorf("rollback %s at phase %s: %s", outcome, phase, detail)
}

func artifactTime(a *backup.Artifact) time.Time {
	if a == nil {
		return time.Time{}
	}
	return a.CreatedAt
}

func installCommand(a *backup.Artifact) string {
	if a == nil {
		return ""
	}
	return a.InstallCommand
}
