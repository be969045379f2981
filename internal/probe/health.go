package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Status classifies a single health check outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// HealthCheckResult is the immutable record of one probe invocation.
type HealthCheckResult struct {
	Status      Status
	LatencyMs   int64
	Timestamp   time.Time
	ErrorDetail string
}

// Healthy reports whether the check succeeded.
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusSuccess
}

// Source produces health check results. The HTTP probe is the production
// implementation; tests inject a scripted source.
type Source interface {
	Check(ctx context.Context) HealthCheckResult
}

// HTTPProbe performs one bounded HTTP GET per invocation. Success requires a
// 2xx status within the timeout. The probe never retries; retry policy lives
// in the monitoring session.
type HTTPProbe struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPProbe creates a probe against url with a per-request timeout.
func NewHTTPProbe(url string, timeout time.Duration, logger *zap.Logger) *HTTPProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("healthprobe"),
	}
}

// Check issues the request and classifies the outcome. Connection failure,
// non-2xx status and timeout are all failures with a populated error detail,
// never Go errors: a failed check is data for the session, not a fault.
func (p *HTTPProbe) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	result := HealthCheckResult{Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		result.Status = StatusFailure
		result.ErrorDetail = fmt.Sprintf("invalid target: %v", err)
		return result
	}

	resp, err := p.client.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = StatusFailure
		result.ErrorDetail = classifyError(err)
		p.logger.Debug("health check failed",
			zap.String("url", p.url),
			zap.String("detail", result.ErrorDetail))
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = StatusFailure
		result.ErrorDetail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return result
	}

	result.Status = StatusSuccess
	return result
}

// classifyError maps transport errors onto the short operator-facing details
// the summary and metrics records carry.
func classifyError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	return err.Error()
}
