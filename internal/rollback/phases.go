package rollback

import (
	"time"

	"github.com/failsafe-dev/failsafe/internal/backup"
)

// PhaseName identifies one step of the recovery procedure. Phases execute
// strictly in this order; a phase never re-runs within one execution.
type PhaseName string

const (
	PhaseVerifyIntegrity       PhaseName = "verify-integrity"
	PhaseSafetyCheck           PhaseName = "safety-check"
	PhaseEmergencySnapshot     PhaseName = "emergency-snapshot"
	PhaseStopServices          PhaseName = "stop-services"
	PhaseRestoreFiles          PhaseName = "restore-files"
	PhaseReinstallDependencies PhaseName = "reinstall-dependencies"
	PhaseStartServices         PhaseName = "start-services"
	PhasePostVerify            PhaseName = "post-verify"
)

// PhaseStatus is the terminal status one phase reports.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "success"
	PhaseFailed  PhaseStatus = "failed"
	PhaseWarning PhaseStatus = "warning"
)

// PhaseResult records one executed phase.
type PhaseResult struct {
	Name     PhaseName
	Status   PhaseStatus
	Duration time.Duration
	Detail   string
}

// Outcome is the overall result of one rollback execution.
type Outcome string

const (
	// OutcomeSuccess means every phase through service start succeeded and
	// post-verification passed.
	OutcomeSuccess Outcome = "success"
	// OutcomeCompletedWithWarnings means the restore mechanically succeeded
	// but post-verification failed; the operator must check the environment.
	OutcomeCompletedWithWarnings Outcome = "completed_with_warnings"
	// OutcomeFailed means a destructive phase failed; the environment may be
	// partially modified.
	OutcomeFailed Outcome = "failed"
	// OutcomeAborted means the execution halted before any mutation.
	OutcomeAborted Outcome = "aborted"
)

// Request describes one rollback to perform.
type Request struct {
	Artifact    *backup.Artifact
	Reason      string
	Force       bool
	Environment string
}

// Execution tracks one rollback attempt from start to reported outcome.
// Phases that never ran do not appear in the phase list.
type Execution struct {
	ID          string
	Request     Request
	StartedAt   time.Time
	FinishedAt  time.Time
	Phases      []PhaseResult
	Outcome     Outcome
	FailedPhase PhaseName

	// SnapshotPath is the emergency snapshot taken before destructive
	// phases, surfaced as the recovery option when the rollback fails.
	SnapshotPath string
}

// Phase returns the result for a phase, if it ran.
func (e *Execution) Phase(name PhaseName) (PhaseResult, bool) {
	for _, p := range e.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// record appends a phase result and returns its status for chaining.
func (e *Execution) record(name PhaseName, status PhaseStatus, started time.Time, detail string) PhaseStatus {
	e.Phases = append(e.Phases, PhaseResult{
		Name:     name,
		Status:   status,
		Duration: time.Since(started),
		Detail:   detail,
	})
	return status
}
