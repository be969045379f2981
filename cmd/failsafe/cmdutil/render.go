package cmdutil

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/failsafe-dev/failsafe/internal/monitor"
	"github.com/failsafe-dev/failsafe/internal/rollback"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// PrintSummary renders the session's terminal report.
func PrintSummary(s *monitor.Summary) {
	fmt.Println()
	fmt.Println(bold("Monitoring session summary"))
	fmt.Printf("  environment:    %s\n", s.Environment)
	fmt.Printf("  state:          %s\n", colorState(string(s.State)))
	fmt.Printf("  elapsed:        %s\n", s.Elapsed.Round(time.Second))
	fmt.Printf("  checks:         %d\n", s.TotalChecks)
	fmt.Printf("  failures:       %d\n", s.TotalFailures)
	fmt.Printf("  slow responses: %d\n", s.TotalSlowResponses)
	fmt.Printf("  uptime:         %.1f%%\n", s.UptimePercent)

	if s.Rollback != nil {
		PrintExecution(s.Rollback)
	}
}

// PrintExecution renders a rollback's phase-by-phase report.
func PrintExecution(e *rollback.Execution) {
	fmt.Println()
	fmt.Println(bold("Rollback execution ") + e.ID)
	if e.Request.Artifact != nil {
		fmt.Printf("  artifact: %s\n", e.Request.Artifact.Path)
	}
	if e.Request.Reason != "" {
		fmt.Printf("  reason:   %s\n", e.Request.Reason)
	}
	for _, p := range e.Phases {
		line := fmt.Sprintf("  %-24s %-8s %s", p.Name, colorPhase(p.Status), p.Detail)
		fmt.Println(line)
	}
	fmt.Printf("  outcome: %s\n", colorState(string(e.Outcome)))
	if e.Outcome == rollback.OutcomeFailed && e.SnapshotPath != "" {
		fmt.Printf("  %s emergency snapshot available at %s\n", yellow("recovery:"), e.SnapshotPath)
	}
	if e.Outcome == rollback.OutcomeCompletedWithWarnings {
		fmt.Printf("  %s rollback completed, verification failed, manual check required\n", yellow("warning:"))
	}
}

func colorState(state string) string {
	switch state {
	case string(monitor.StateCompleted), string(rollback.OutcomeSuccess):
		return green(state)
	case string(monitor.StateRollbackTriggered), string(rollback.OutcomeCompletedWithWarnings):
		return yellow(state)
	default:
		return red(state)
	}
}

func colorPhase(status rollback.PhaseStatus) string {
	switch status {
	case rollback.PhaseSuccess:
		return green(string(status))
	case rollback.PhaseWarning:
		return yellow(string(status))
	default:
		return red(string(status))
	}
}
