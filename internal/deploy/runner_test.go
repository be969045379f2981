package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecRunnerSuccess(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner(Commands{
		Stop:    "touch stopped",
		Start:   "true",
		WorkDir: dir,
	}, zaptest.NewLogger(t))

	require.NoError(t, r.StopServices(context.Background()))
	require.NoError(t, r.StartServices(context.Background()))

	// Commands run from the configured working directory.
	_, err := os.Stat(filepath.Join(dir, "stopped"))
	assert.NoError(t, err)
}

func TestExecRunnerEmptyCommandIsNoOp(t *testing.T) {
	r := NewExecRunner(Commands{}, zaptest.NewLogger(t))

	assert.NoError(t, r.StopServices(context.Background()))
	assert.NoError(t, r.StartServices(context.Background()))
	assert.NoError(t, r.RunSmokeTests(context.Background(), "production"))
	assert.NoError(t, r.Reinstall(context.Background(), ""))
}

func TestExecRunnerFailureCarriesOutput(t *testing.T) {
	r := NewExecRunner(Commands{
		SmokeTest: "echo smoke suite exploded >&2; exit 3",
	}, zaptest.NewLogger(t))

	err := r.RunSmokeTests(context.Background(), "staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smoke-tests")
	assert.Contains(t, err.Error(), "smoke suite exploded")
}

func TestExecRunnerTimeout(t *testing.T) {
	r := NewExecRunner(Commands{
		Start:   "sleep 5",
		Timeout: 50 * time.Millisecond,
	}, zaptest.NewLogger(t))

	start := time.Now()
	err := r.StartServices(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReinstallPrefersManifestCommand(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner(Commands{
		Reinstall: "touch default-install",
		WorkDir:   dir,
	}, zaptest.NewLogger(t))

	// Explicit command wins over the configured default.
	require.NoError(t, r.Reinstall(context.Background(), "touch manifest-install"))
	_, err := os.Stat(filepath.Join(dir, "manifest-install"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "default-install"))
	assert.True(t, os.IsNotExist(err))

	// Blank command falls back to the default.
	require.NoError(t, r.Reinstall(context.Background(), "  "))
	_, err = os.Stat(filepath.Join(dir, "default-install"))
	assert.NoError(t, err)
}
