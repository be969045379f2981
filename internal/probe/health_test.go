package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPProbeCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantStatus Status
		wantDetail string
	}{
		{name: "200 is success", statusCode: http.StatusOK, wantStatus: StatusSuccess},
		{name: "204 is success", statusCode: http.StatusNoContent, wantStatus: StatusSuccess},
		{name: "503 is failure", statusCode: http.StatusServiceUnavailable, wantStatus: StatusFailure, wantDetail: "HTTP 503"},
		{name: "404 is failure", statusCode: http.StatusNotFound, wantStatus: StatusFailure, wantDetail: "HTTP 404"},
		{name: "301 is failure", statusCode: http.StatusMovedPermanently, wantStatus: StatusFailure, wantDetail: "HTTP 301"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			p := NewHTTPProbe(srv.URL, time.Second, zaptest.NewLogger(t))
			result := p.Check(context.Background())

			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, result.ErrorDetail)
			}
			assert.GreaterOrEqual(t, result.LatencyMs, int64(0))
			assert.False(t, result.Timestamp.IsZero())
		})
	}
}

func TestHTTPProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, 50*time.Millisecond, zaptest.NewLogger(t))
	result := p.Check(context.Background())

	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, "timeout", result.ErrorDetail)
}

func TestHTTPProbeConnectionRefused(t *testing.T) {
	// Grab a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProbe(url, time.Second, zaptest.NewLogger(t))
	result := p.Check(context.Background())

	require.Equal(t, StatusFailure, result.Status)
	assert.Contains(t, result.ErrorDetail, "connection refused")
}

// The probe must issue exactly one request per Check: retry policy belongs
// to the monitoring session.
func TestHTTPProbeDoesNotRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Second, zaptest.NewLogger(t))
	p.Check(context.Background())

	assert.Equal(t, int64(1), requests.Load())
}
