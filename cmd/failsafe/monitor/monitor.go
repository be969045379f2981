// Package monitor implements the `failsafe monitor` command: it runs one
// monitoring session against an environment and maps its terminal state to
// the process exit status.
package monitor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/failsafe-dev/failsafe/cmd/failsafe/cmdutil"
	"github.com/failsafe-dev/failsafe/internal/backup"
	"github.com/failsafe-dev/failsafe/internal/deploy"
	"github.com/failsafe-dev/failsafe/internal/metrics"
	monitorcore "github.com/failsafe-dev/failsafe/internal/monitor"
	"github.com/failsafe-dev/failsafe/internal/notify"
	"github.com/failsafe-dev/failsafe/internal/probe"
	"github.com/failsafe-dev/failsafe/internal/rollback"
)

var (
	environment      string
	targetURL        string
	duration         time.Duration
	interval         time.Duration
	failureThreshold int
	latencyThreshold int64
	probeTimeout     time.Duration

	backupPath   string
	backupDir    string
	autoRollback bool
	force        bool

	deployDir   string
	snapshotDir string
	stopCmd     string
	startCmd    string
	smokeCmd    string
	installCmd  string

	metricsDB  string
	webhookURL string

	cpuThreshold  float64
	memThreshold  float64
	diskThreshold float64
	diskPath      string

	verbose bool
)

// Cmd is the `failsafe monitor` command.
var Cmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor an environment's health and roll back on sustained failure",
	Long: `Run a periodic health check loop against a deployed environment.

When the configured number of consecutive health check failures is reached
and auto-rollback is enabled, the most recent verified backup is restored
through the multi-phase recovery procedure.`,
	RunE: run,
}

func init() {
	f := Cmd.Flags()
	f.StringVarP(&environment, "environment", "e", "", "environment under watch (required)")
	f.StringVarP(&targetURL, "url", "u", "", "health endpoint URL (required)")
	f.DurationVarP(&duration, "duration", "d", 0, "how long to monitor (0 = until interrupted)")
	f.DurationVarP(&interval, "interval", "i", 30*time.Second, "pause between checks")
	f.IntVar(&failureThreshold, "failure-threshold", 3, "consecutive failures that declare a breach")
	f.Int64Var(&latencyThreshold, "latency-threshold", 2000, "slow-response threshold in milliseconds")
	f.DurationVar(&probeTimeout, "probe-timeout", 10*time.Second, "per-check request timeout")

	f.StringVar(&backupPath, "backup", "", "backup artifact to roll back to")
	f.StringVar(&backupDir, "backup-dir", "", "directory of backup artifacts (most recent wins)")
	f.BoolVar(&autoRollback, "auto-rollback", false, "roll back automatically on breach")
	f.BoolVar(&force, "force", false, "bypass integrity and confirmation gates during rollback")

	f.StringVar(&deployDir, "deploy-dir", "", "live deployment tree (required with --auto-rollback)")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "directory for emergency snapshots")
	f.StringVar(&stopCmd, "stop-cmd", "", "command that stops the environment's services")
	f.StringVar(&startCmd, "start-cmd", "", "command that starts the environment's services")
	f.StringVar(&smokeCmd, "smoke-cmd", "", "post-restore smoke test command")
	f.StringVar(&installCmd, "install-cmd", "", "dependency reinstall command")

	f.StringVar(&metricsDB, "metrics-db", defaultMetricsDB(), "sqlite file for per-check records (empty disables)")
	f.StringVar(&webhookURL, "webhook", "", "notification webhook URL")

	f.Float64Var(&cpuThreshold, "cpu-threshold", 90, "CPU usage warning threshold in percent (0 disables)")
	f.Float64Var(&memThreshold, "mem-threshold", 90, "memory usage warning threshold in percent (0 disables)")
	f.Float64Var(&diskThreshold, "disk-threshold", 90, "disk usage warning threshold in percent (0 disables)")
	f.StringVar(&diskPath, "disk-path", "/", "filesystem path sampled for disk usage")

	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	Cmd.MarkFlagRequired("environment")
	Cmd.MarkFlagRequired("url")
}

func defaultMetricsDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".failsafe", "metrics.db")
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := cmdutil.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := monitorcore.Config{
		Environment:        environment,
		Duration:           duration,
		Interval:           interval,
		FailureThreshold:   failureThreshold,
		LatencyThresholdMs: latencyThreshold,
		AutoRollback:       autoRollback,
		Force:              force,
		ResourceThresholds: probe.ResourceThresholds{
			CPUPct:  cpuThreshold,
			MemPct:  memThreshold,
			DiskPct: diskThreshold,
		},
	}

	deps, cleanup, err := buildDeps(ctx, logger)
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}
	defer cleanup()

	session, err := monitorcore.NewSession(cfg, deps, logger)
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}

	summary, runErr := session.Run(ctx)
	cmdutil.PrintSummary(summary)

	switch summary.State {
	case monitorcore.StateCompleted:
		return nil
	case monitorcore.StateRollbackTriggered:
		return cmdutil.Exit(cmdutil.CodeRollback, runErr)
	default:
		return cmdutil.Exit(cmdutil.CodeAborted, runErr)
	}
}

// buildDeps wires the session's collaborators from the flag set.
func buildDeps(ctx context.Context, logger *zap.Logger) (monitorcore.Deps, func(), error) {
	deps := monitorcore.Deps{
		Source:    probe.NewHTTPProbe(targetURL, probeTimeout, logger),
		Resources: probe.NewResourceProbe(diskPath, logger),
		Notifier:  notify.Nop{},
	}
	cleanup := func() {}

	if webhookURL != "" {
		deps.Notifier = notify.NewWebhook(webhookURL, 10*time.Second, logger)
	}

	if metricsDB != "" {
		sink, err := metrics.NewSQLiteSink(metricsDB)
		if err != nil {
			return deps, cleanup, fmt.Errorf("open metrics sink: %w", err)
		}
		deps.Sink = sink
		cleanup = func() { sink.Close() }
	}

	switch {
	case backupPath != "":
		artifact, err := backup.LoadArtifact(backupPath)
		if err != nil {
			return deps, cleanup, err
		}
		deps.Artifacts = backup.Static{Artifact: artifact}
	case backupDir != "":
		catalog, err := backup.NewCatalog(backupDir, logger)
		if err != nil {
			return deps, cleanup, err
		}
		if err := catalog.Watch(ctx); err != nil {
			logger.Warn("backup directory watch unavailable", zap.Error(err))
		}
		deps.Artifacts = catalog
	}

	if autoRollback {
		runner := deploy.NewExecRunner(deploy.Commands{
			Stop:      stopCmd,
			Start:     startCmd,
			SmokeTest: smokeCmd,
			Reinstall: installCmd,
			WorkDir:   deployDir,
		}, logger)
		// Session-triggered rollbacks are non-interactive: there is no
		// operator at the prompt when a breach fires at 3am.
		controller, err := rollback.NewController(rollback.Config{
			DeployDir:   deployDir,
			SnapshotDir: snapshotDir,
		}, backup.NewVerifier(logger), runner, nil, logger)
		if err != nil {
			return deps, cleanup, fmt.Errorf("configure rollback: %w", err)
		}
		deps.Rollback = controller
	}

	return deps, cleanup, nil
}
