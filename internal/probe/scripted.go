package probe

import (
	"context"
	"sync"
	"time"
)

// ScriptedSource replays a fixed sequence of results, for tests and dry
// runs. Once the script is exhausted it keeps returning the final result.
type ScriptedSource struct {
	mu      sync.Mutex
	results []HealthCheckResult
	idx     int
	calls   int
}

// NewScriptedSource builds a source that replays results in order.
func NewScriptedSource(results ...HealthCheckResult) *ScriptedSource {
	return &ScriptedSource{results: results}
}

// Script is a convenience constructor: true means a fast success, false a
// failure with a generic detail.
func Script(outcomes ...bool) *ScriptedSource {
	results := make([]HealthCheckResult, len(outcomes))
	for i, ok := range outcomes {
		if ok {
			results[i] = HealthCheckResult{Status: StatusSuccess, LatencyMs: 10}
		} else {
			results[i] = HealthCheckResult{Status: StatusFailure, LatencyMs: 10, ErrorDetail: "HTTP 503"}
		}
	}
	return NewScriptedSource(results...)
}

// Check returns the next scripted result.
func (s *ScriptedSource) Check(ctx context.Context) HealthCheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) == 0 {
		return HealthCheckResult{Status: StatusFailure, Timestamp: time.Now(), ErrorDetail: "script empty"}
	}
	r := s.results[s.idx]
	if s.idx < len(s.results)-1 {
		s.idx++
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r
}

// Calls reports how many checks have been issued against the script.
func (s *ScriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
