// Package rollback implements the `failsafe rollback` command: a standalone
// run of the recovery procedure against a named backup artifact.
package rollback

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/failsafe-dev/failsafe/cmd/failsafe/cmdutil"
	"github.com/failsafe-dev/failsafe/internal/backup"
	"github.com/failsafe-dev/failsafe/internal/deploy"
	"github.com/failsafe-dev/failsafe/internal/notify"
	rollbackcore "github.com/failsafe-dev/failsafe/internal/rollback"
)

var (
	backupPath  string
	environment string
	force       bool
	yes         bool

	deployDir   string
	snapshotDir string
	stopCmd     string
	startCmd    string
	smokeCmd    string
	installCmd  string
	webhookURL  string

	verbose bool
)

// Cmd is the `failsafe rollback` command.
var Cmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore an environment from a verified backup",
	Long: `Run the multi-phase recovery procedure against a backup artifact:
verify integrity, snapshot the current state, stop services, restore files,
reinstall dependencies, restart, and run smoke tests.`,
	RunE: run,
}

func init() {
	f := Cmd.Flags()
	f.StringVar(&backupPath, "backup", "", "backup artifact to restore (required)")
	f.StringVarP(&environment, "environment", "e", "", "environment being restored (required)")
	f.BoolVar(&force, "force", false, "bypass integrity and confirmation gates")
	f.BoolVarP(&yes, "yes", "y", false, "answer yes to confirmation prompts")

	f.StringVar(&deployDir, "deploy-dir", "", "live deployment tree (required)")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "directory for emergency snapshots")
	f.StringVar(&stopCmd, "stop-cmd", "", "command that stops the environment's services")
	f.StringVar(&startCmd, "start-cmd", "", "command that starts the environment's services")
	f.StringVar(&smokeCmd, "smoke-cmd", "", "post-restore smoke test command")
	f.StringVar(&installCmd, "install-cmd", "", "dependency reinstall command")
	f.StringVar(&webhookURL, "webhook", "", "notification webhook URL")

	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	Cmd.MarkFlagRequired("backup")
	Cmd.MarkFlagRequired("environment")
	Cmd.MarkFlagRequired("deploy-dir")
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := cmdutil.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifact, err := backup.LoadArtifact(backupPath)
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}

	runner := deploy.NewExecRunner(deploy.Commands{
		Stop:      stopCmd,
		Start:     startCmd,
		SmokeTest: smokeCmd,
		Reinstall: installCmd,
		WorkDir:   deployDir,
	}, logger)

	controller, err := rollbackcore.NewController(rollbackcore.Config{
		DeployDir:   deployDir,
		SnapshotDir: snapshotDir,
	}, backup.NewVerifier(logger), runner, confirmer(), logger)
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}

	req := rollbackcore.Request{
		Artifact:    artifact,
		Reason:      "operator-initiated rollback",
		Force:       force,
		Environment: environment,
	}
	execution, execErr := controller.Execute(ctx, req)
	cmdutil.PrintExecution(execution)
	notifyOutcome(ctx, logger, execution)

	switch execution.Outcome {
	case rollbackcore.OutcomeSuccess, rollbackcore.OutcomeCompletedWithWarnings:
		return nil
	default:
		return cmdutil.Exit(cmdutil.CodeRollback, execErr)
	}
}

// confirmer returns the interactive safety-gate prompt, or nil when the
// operator pre-answered with --yes or --force.
func confirmer() rollbackcore.Confirmer {
	if yes || force {
		return rollbackcore.ConfirmFunc(func(string) bool { return true })
	}
	return rollbackcore.ConfirmFunc(func(prompt string) bool {
		fmt.Printf("%s [y/N]: ", prompt)
		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	})
}

// notifyOutcome dispatches the rollback result; delivery failure is logged
// by the notifier, never fatal.
func notifyOutcome(ctx context.Context, logger *zap.Logger, execution *rollbackcore.Execution) {
	if webhookURL == "" {
		return
	}
	w := notify.NewWebhook(webhookURL, 10*time.Second, logger)
	detail := string(execution.Outcome)
	if execution.FailedPhase != "" {
		detail = fmt.Sprintf("%s at phase %s", execution.Outcome, execution.FailedPhase)
	}
	w.Notify(ctx, notify.Event{
		Event:       "rollback_finished",
		Environment: execution.Request.Environment,
		Status:      string(execution.Outcome),
		Summary:     detail,
	})
}
