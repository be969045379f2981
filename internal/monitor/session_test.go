package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/failsafe-dev/failsafe/internal/backup"
	"github.com/failsafe-dev/failsafe/internal/metrics"
	"github.com/failsafe-dev/failsafe/internal/probe"
	"github.com/failsafe-dev/failsafe/internal/rollback"
)

// memSink collects records in memory for assertions.
type memSink struct {
	mu      sync.Mutex
	records []metrics.Record
}

func (m *memSink) Append(rec metrics.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Replay(sessionID string) ([]metrics.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metrics.Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memSink) Close() error { return nil }

// fakeRollback records the request it was handed.
type fakeRollback struct {
	mu    sync.Mutex
	calls int
	last  rollback.Request
	exec  *rollback.Execution
	err   error
}

func (f *fakeRollback) Execute(ctx context.Context, req rollback.Request) (*rollback.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.exec == nil {
		f.exec = &rollback.Execution{Request: req, Outcome: rollback.OutcomeSuccess}
	}
	return f.exec, f.err
}

func (f *fakeRollback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// cancelAfter cancels the context once n checks have been issued, so tests
// can bound a session to an exact number of cycles.
type cancelAfter struct {
	inner  probe.Source
	cancel context.CancelFunc
	after  int
	n      int
}

func (c *cancelAfter) Check(ctx context.Context) probe.HealthCheckResult {
	c.n++
	r := c.inner.Check(ctx)
	if c.n >= c.after {
		c.cancel()
	}
	return r
}

func testConfig(threshold int) Config {
	return Config{
		Environment:        "production",
		Interval:           time.Millisecond,
		FailureThreshold:   threshold,
		LatencyThresholdMs: 2000,
	}
}

func testArtifact() ArtifactSource {
	return backup.Static{Artifact: &backup.Artifact{Path: "/backups/app.tar.gz", Environment: "production"}}
}

func TestNewSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{name: "missing environment", cfg: Config{Interval: time.Second, FailureThreshold: 3, LatencyThresholdMs: 100}, deps: Deps{Source: probe.Script(true)}},
		{name: "zero interval", cfg: Config{Environment: "e", FailureThreshold: 3, LatencyThresholdMs: 100}, deps: Deps{Source: probe.Script(true)}},
		{name: "zero threshold", cfg: Config{Environment: "e", Interval: time.Second, LatencyThresholdMs: 100}, deps: Deps{Source: probe.Script(true)}},
		{name: "missing source", cfg: testConfig(3), deps: Deps{}},
		{
			name: "auto-rollback without handler",
			cfg: Config{
				Environment: "e", Interval: time.Second, FailureThreshold: 3,
				LatencyThresholdMs: 100, AutoRollback: true,
			},
			deps: Deps{Source: probe.Script(true)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.cfg, tt.deps, zaptest.NewLogger(t))
			require.Error(t, err)
		})
	}
}

// Three consecutive failures at threshold 3 trigger the rollback on exactly
// the third check, with 0% uptime at that point.
func TestConsecutiveFailuresTriggerRollback(t *testing.T) {
	cfg := testConfig(3)
	cfg.AutoRollback = true

	handler := &fakeRollback{}
	sink := &memSink{}
	session, err := NewSession(cfg, Deps{
		Source:    probe.Script(false, false, false),
		Sink:      sink,
		Artifacts: testArtifact(),
		Rollback:  handler,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRollbackTriggered, summary.State)
	assert.Equal(t, int64(3), summary.TotalChecks)
	assert.Equal(t, int64(3), summary.TotalFailures)
	assert.Equal(t, 0.0, summary.UptimePercent)
	assert.Equal(t, 1, handler.callCount())
	assert.Equal(t, "3 consecutive health check failures", handler.last.Reason)
	assert.Equal(t, "/backups/app.tar.gz", handler.last.Artifact.Path)
	require.NotNil(t, summary.Rollback)
}

// [Failure, Failure, Success, Failure, Failure] at threshold 3: the success
// resets the streak, so no rollback fires.
func TestSuccessResetsFailureStreak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(3)
	cfg.AutoRollback = true

	handler := &fakeRollback{}
	sink := &memSink{}
	source := &cancelAfter{inner: probe.Script(false, false, true, false, false), cancel: cancel, after: 5}
	session, err := NewSession(cfg, Deps{
		Source:    source,
		Sink:      sink,
		Artifacts: testArtifact(),
		Rollback:  handler,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, summary.State)
	assert.Equal(t, int64(5), summary.TotalChecks)
	assert.Equal(t, int64(4), summary.TotalFailures)
	assert.Equal(t, int64(2), summary.ConsecutiveFailures)
	assert.Equal(t, 0, handler.callCount())

	// Replaying the sink reconstructs the exact history.
	records, err := sink.Replay(summary.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	wantStatuses := []probe.Status{
		probe.StatusFailure, probe.StatusFailure, probe.StatusSuccess,
		probe.StatusFailure, probe.StatusFailure,
	}
	for i, rec := range records {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, wantStatuses[i], rec.Status)
	}
}

// Non-consecutive failures may exceed the threshold in total without ever
// triggering: only the streak counts.
func TestNonConsecutiveFailuresNeverTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(2)
	cfg.AutoRollback = true

	handler := &fakeRollback{}
	source := &cancelAfter{inner: probe.Script(false, true, false, true, false, true), cancel: cancel, after: 6}
	session, err := NewSession(cfg, Deps{
		Source:    source,
		Artifacts: testArtifact(),
		Rollback:  handler,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.TotalFailures)
	assert.Equal(t, 0, handler.callCount())
	assert.Equal(t, StateAborted, summary.State)
}

// A slow success neither counts as a failure nor heals the streak.
func TestSlowResponseDoesNotResetStreak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(3)
	slow := probe.HealthCheckResult{Status: probe.StatusSuccess, LatencyMs: 5000}
	fail := probe.HealthCheckResult{Status: probe.StatusFailure, LatencyMs: 10, ErrorDetail: "HTTP 503"}
	source := &cancelAfter{
		inner:  probe.NewScriptedSource(fail, slow, fail),
		cancel: cancel,
		after:  3,
	}

	session, err := NewSession(cfg, Deps{Source: source}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.TotalFailures)
	assert.Equal(t, int64(1), summary.TotalSlowResponses)
	assert.Equal(t, int64(2), summary.ConsecutiveFailures)
}

// A fast success resets the streak to exactly zero regardless of length.
func TestFastSuccessResetsToZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(10)
	source := &cancelAfter{inner: probe.Script(false, false, false, false, true), cancel: cancel, after: 5}
	session, err := NewSession(cfg, Deps{Source: source}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.ConsecutiveFailures)
	assert.Equal(t, int64(4), summary.TotalFailures)
}

// Counter invariant: 0 <= consecutiveFailures <= totalFailures <= totalChecks.
func TestCounterInvariant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(100)
	source := &cancelAfter{
		inner:  probe.Script(false, true, false, false, true, false, true, true, false, false),
		cancel: cancel,
		after:  10,
	}
	session, err := NewSession(cfg, Deps{Source: source}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, summary.ConsecutiveFailures, int64(0))
	assert.LessOrEqual(t, summary.ConsecutiveFailures, summary.TotalFailures)
	assert.LessOrEqual(t, summary.TotalFailures, summary.TotalChecks)
}

// Breach with auto-rollback disabled warns and keeps looping.
func TestBreachWithoutAutoRollbackContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(2)
	source := &cancelAfter{inner: probe.Script(false, false, false, false), cancel: cancel, after: 4}
	session, err := NewSession(cfg, Deps{Source: source}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	// The loop ran past the threshold rather than stopping at check 2.
	assert.Equal(t, int64(4), summary.TotalChecks)
	assert.Equal(t, StateAborted, summary.State)
}

// Breach with auto-rollback but no artifact aborts without attempting a
// rollback.
func TestBreachWithoutBackupAborts(t *testing.T) {
	cfg := testConfig(2)
	cfg.AutoRollback = true

	handler := &fakeRollback{}
	session, err := NewSession(cfg, Deps{
		Source:   probe.Script(false, false),
		Rollback: handler,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup configured")
	assert.Equal(t, StateAborted, summary.State)
	assert.Equal(t, 0, handler.callCount())
}

// A cancelled session still reports its summary.
func TestCancelledBeforeFirstCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := NewSession(testConfig(3), Deps{Source: probe.Script(true)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(ctx)
	require.NoError(t, err)

	require.NotNil(t, summary)
	assert.Equal(t, StateAborted, summary.State)
	assert.Equal(t, int64(0), summary.TotalChecks)
	assert.Equal(t, 100.0, summary.UptimePercent)
}

// A bounded session completes at its deadline.
func TestSessionDeadline(t *testing.T) {
	cfg := testConfig(100)
	cfg.Duration = 25 * time.Millisecond
	cfg.Interval = 5 * time.Millisecond

	session, err := NewSession(cfg, Deps{Source: probe.Script(true)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	summary, err := session.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, summary.State)
	assert.Greater(t, summary.TotalChecks, int64(0))
	assert.Equal(t, 100.0, summary.UptimePercent)
}

func TestSessionRunsOnlyOnce(t *testing.T) {
	cfg := testConfig(3)
	cfg.Duration = time.Millisecond

	session, err := NewSession(cfg, Deps{Source: probe.Script(true)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = session.Run(context.Background())
	require.NoError(t, err)

	_, err = session.Run(context.Background())
	require.Error(t, err)
}

func TestSessionPrometheusCounters(t *testing.T) {
	cfg := testConfig(3)
	cfg.AutoRollback = true

	m := metrics.NewSessionMetrics(cfg.Environment)
	session, err := NewSession(cfg, Deps{
		Source:    probe.Script(false, false, false),
		Artifacts: testArtifact(),
		Rollback:  &fakeRollback{},
		Metrics:   m,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = session.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChecksTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbacksTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConsecutiveFailures))
}
