// Package monitor owns the periodic health check loop: it accumulates
// failure streaks and aggregate statistics, evaluates breach conditions, and
// hands control to the rollback controller when a sustained breach occurs.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/failsafe-dev/failsafe/internal/backup"
	"github.com/failsafe-dev/failsafe/internal/metrics"
	"github.com/failsafe-dev/failsafe/internal/notify"
	"github.com/failsafe-dev/failsafe/internal/probe"
	"github.com/failsafe-dev/failsafe/internal/rollback"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateRunning           State = "running"
	StateCompleted         State = "completed"
	StateRollbackTriggered State = "rollback_triggered"
	StateAborted           State = "aborted"
)

// RollbackHandler executes a rollback request when the session declares a
// breach. The rollback controller satisfies this; tests substitute fakes.
type RollbackHandler interface {
	Execute(ctx context.Context, req rollback.Request) (*rollback.Execution, error)
}

// ArtifactSource supplies the most recent known-good backup artifact for an
// environment. The backup catalog satisfies this.
type ArtifactSource interface {
	Latest(environment string) *backup.Artifact
}

// ResourceSampler abstracts the resource probe for tests.
type ResourceSampler interface {
	Sample(ctx context.Context) probe.ResourceSnapshot
}

// Deps are the session's injected collaborators. Source is required; the
// rest default to no-ops.
type Deps struct {
	Source    probe.Source
	Resources ResourceSampler
	Sink      metrics.Sink
	Artifacts ArtifactSource
	Rollback  RollbackHandler
	Notifier  notify.Notifier
	Metrics   *metrics.SessionMetrics
}

// Summary is the terminal report every session emits, on every exit path.
type Summary struct {
	SessionID           string
	Environment         string
	State               State
	Elapsed             time.Duration
	TotalChecks         int64
	TotalFailures       int64
	TotalSlowResponses  int64
	ConsecutiveFailures int64
	UptimePercent       float64
	Rollback            *rollback.Execution
}

// String renders the summary in one line for logs and notifications.
func (s *Summary) String() string {
	return fmt.Sprintf("env=%s state=%s elapsed=%s checks=%d failures=%d slow=%d uptime=%.1f%%",
		s.Environment, s.State, s.Elapsed.Round(time.Second),
		s.TotalChecks, s.TotalFailures, s.TotalSlowResponses, s.UptimePercent)
}

// Session drives one monitoring run against one environment. It is owned by
// a single goroutine: the loop suspends only at the bounded probe call and
// the interruptible inter-check sleep, and at most one session runs against
// an environment at a time (enforced by the caller).
type Session struct {
	cfg    Config
	deps   Deps
	id     string
	logger *zap.Logger

	state     State
	startTime time.Time
	deadline  time.Time

	// Counter invariant: 0 <= consecutiveFailures <= totalFailures <=
	// totalChecks. A slow-but-successful response increments only
	// totalSlowResponses: it is not a failure, but it does not heal a
	// failure streak either.
	consecutiveFailures int64
	totalChecks         int64
	totalFailures       int64
	totalSlowResponses  int64

	lastExecution *rollback.Execution
}

// NewSession creates a session in the Idle state.
func NewSession(cfg Config, deps Deps, logger *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("health probe source is required")
	}
	if cfg.AutoRollback && deps.Rollback == nil {
		return nil, fmt.Errorf("auto-rollback enabled but no rollback handler given")
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewSessionMetrics(cfg.Environment)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Session{
		cfg:    cfg,
		deps:   deps,
		id:     id,
		logger: logger.Named("session").With(zap.String("session_id", id), zap.String("environment", cfg.Environment)),
		state:  StateIdle,
	}, nil
}

// ID returns the session identifier used in metrics records.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Run executes the monitoring loop until the deadline passes, the context is
// cancelled, or a breach triggers (or fails to trigger) a rollback. The
// summary is emitted on every exit path, including cancellation and panics.
func (s *Session) Run(ctx context.Context) (summary *Summary, err error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("session has already run (state %s)", s.state)
	}

	s.state = StateRunning
	s.startTime = time.Now()
	if s.cfg.Duration > 0 {
		s.deadline = s.startTime.Add(s.cfg.Duration)
	}

	defer func() {
		if s.state == StateRunning {
			// Reaching here still Running means a panic unwound the loop.
			s.state = StateAborted
		}
		summary = s.summarize()
		s.emitSummary(summary)
	}()

	s.logger.Info("monitoring session starting",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("duration", s.cfg.Duration),
		zap.Int("failure_threshold", s.cfg.FailureThreshold),
		zap.Int64("latency_threshold_ms", s.cfg.LatencyThresholdMs),
		zap.Bool("auto_rollback", s.cfg.AutoRollback))

	for {
		if ctx.Err() != nil {
			s.logger.Info("session cancelled")
			s.state = StateAborted
			return
		}
		if !s.deadline.IsZero() && !time.Now().Before(s.deadline) {
			s.state = StateCompleted
			return
		}

		done, loopErr := s.runCheck(ctx)
		if done {
			err = loopErr
			return
		}

		// Sleep until the next tick unless the deadline would be exceeded.
		if !s.deadline.IsZero() && time.Now().Add(s.cfg.Interval).After(s.deadline) {
			s.state = StateCompleted
			return
		}
		select {
		case <-ctx.Done():
			s.logger.Info("session cancelled during sleep")
			s.state = StateAborted
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// runCheck performs one check cycle. It returns done=true when the session
// reached a terminal state.
func (s *Session) runCheck(ctx context.Context) (done bool, err error) {
	s.totalChecks++
	seq := s.totalChecks

	result := s.deps.Source.Check(ctx)
	s.deps.Metrics.ChecksTotal.Inc()
	s.deps.Metrics.LatencyMs.Observe(float64(result.LatencyMs))

	// Resource breach is a warning only; it never counts toward the
	// failure streak. Only health probe outcomes drive consecutiveFailures.
	if s.deps.Resources != nil {
		snap := s.deps.Resources.Sample(ctx)
		if breaches := snap.Breaches(s.cfg.ResourceThresholds); len(breaches) > 0 {
			s.logger.Warn("resource thresholds breached", zap.Strings("breaches", breaches))
		} else {
			s.logger.Debug("resource sample", zap.String("usage", snap.String()))
		}
	}

	switch {
	case result.Healthy() && result.LatencyMs <= s.cfg.LatencyThresholdMs:
		s.consecutiveFailures = 0
		s.logger.Debug("health check ok",
			zap.Int64("seq", seq),
			zap.Int64("latency_ms", result.LatencyMs))
	case result.Healthy():
		s.totalSlowResponses++
		s.deps.Metrics.SlowResponsesTotal.Inc()
		s.logger.Warn("health check slow",
			zap.Int64("seq", seq),
			zap.Int64("latency_ms", result.LatencyMs),
			zap.Int64("threshold_ms", s.cfg.LatencyThresholdMs))
	default:
		s.consecutiveFailures++
		s.totalFailures++
		s.deps.Metrics.FailuresTotal.Inc()
		s.logger.Warn("health check failed",
			zap.Int64("seq", seq),
			zap.String("detail", result.ErrorDetail),
			zap.Int64("consecutive", s.consecutiveFailures))
	}
	s.deps.Metrics.ConsecutiveFailures.Set(float64(s.consecutiveFailures))

	// Persist regardless of outcome. A sink failure is transient: recorded
	// and moved past, never a session crash.
	rec := metrics.Record{
		SessionID:   s.id,
		Seq:         seq,
		Timestamp:   result.Timestamp,
		Status:      result.Status,
		LatencyMs:   result.LatencyMs,
		Environment: s.cfg.Environment,
		ErrorDetail: result.ErrorDetail,
	}
	if appendErr := s.deps.Sink.Append(rec); appendErr != nil {
		s.logger.Warn("failed to persist check record", zap.Error(appendErr))
	}

	if s.consecutiveFailures >= int64(s.cfg.FailureThreshold) {
		return s.onBreach(ctx)
	}
	return false, nil
}

// onBreach handles a reached failure threshold.
func (s *Session) onBreach(ctx context.Context) (done bool, err error) {
	if !s.cfg.AutoRollback {
		s.logger.Warn("failure threshold reached but auto-rollback is disabled, manual intervention required",
			zap.Int64("consecutive_failures", s.consecutiveFailures))
		return false, nil
	}

	var artifact *backup.Artifact
	if s.deps.Artifacts != nil {
		artifact = s.deps.Artifacts.Latest(s.cfg.Environment)
	}
	if artifact == nil {
		s.logger.Error("no backup configured, manual rollback required")
		s.state = StateAborted
		return true, fmt.Errorf("no backup configured for environment %s", s.cfg.Environment)
	}

	s.state = StateRollbackTriggered
	s.deps.Metrics.RollbacksTotal.Inc()
	reason := fmt.Sprintf("%d consecutive health check failures", s.consecutiveFailures)
	s.logger.Error("failure threshold breached, triggering rollback",
		zap.String("reason", reason),
		zap.String("artifact", artifact.Path))

	req := rollback.Request{
		Artifact:    artifact,
		Reason:      reason,
		Force:       s.cfg.Force,
		Environment: s.cfg.Environment,
	}
	execution, rbErr := s.deps.Rollback.Execute(ctx, req)
	s.lastExecution = execution
	if rbErr != nil {
		return true, fmt.Errorf("rollback: %w", rbErr)
	}
	return true, nil
}

// summarize builds the terminal report.
func (s *Session) summarize() *Summary {
	uptime := 100.0
	if s.totalChecks > 0 {
		uptime = float64(s.totalChecks-s.totalFailures) / float64(s.totalChecks) * 100
	}
	return &Summary{
		SessionID:           s.id,
		Environment:         s.cfg.Environment,
		State:               s.state,
		Elapsed:             time.Since(s.startTime),
		TotalChecks:         s.totalChecks,
		TotalFailures:       s.totalFailures,
		TotalSlowResponses:  s.totalSlowResponses,
		ConsecutiveFailures: s.consecutiveFailures,
		UptimePercent:       uptime,
		Rollback:            s.lastExecution,
	}
}

// emitSummary logs the summary and dispatches it to the notifier. Delivery
// failure is non-fatal.
func (s *Session) emitSummary(summary *Summary) {
	s.logger.Info("monitoring session finished",
		zap.String("state", string(summary.State)),
		zap.Int64("total_checks", summary.TotalChecks),
		zap.Int64("total_failures", summary.TotalFailures),
		zap.Int64("total_slow_responses", summary.TotalSlowResponses),
		zap.Float64("uptime_percent", summary.UptimePercent),
		zap.Duration("elapsed", summary.Elapsed))

	// Notification uses its own context: the session's may already be
	// cancelled and the summary must still go out.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	event := notify.Event{
		Event:       "session_finished",
		Environment: summary.Environment,
		Status:      string(summary.State),
		Summary:     summary.String(),
	}
	if err := s.deps.Notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("summary notification failed", zap.Error(err))
	}
}
