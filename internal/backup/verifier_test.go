package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()

	good := writeArtifact(t, dir, "good.tar.gz", "backup payload")
	_, err := WriteChecksumFile(good)
	require.NoError(t, err)

	noChecksum := writeArtifact(t, dir, "nochecksum.tar.gz", "payload")

	tampered := writeArtifact(t, dir, "tampered.tar.gz", "original payload")
	_, err = WriteChecksumFile(tampered)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tampered, []byte("tampered payload"), 0o644))

	tests := []struct {
		name         string
		artifact     *Artifact
		wantOK       bool
		reasonSubstr string
	}{
		{
			name:         "valid artifact",
			artifact:     &Artifact{Path: good},
			wantOK:       true,
			reasonSubstr: "verified",
		},
		{
			name:         "missing artifact file",
			artifact:     &Artifact{Path: filepath.Join(dir, "absent.tar.gz")},
			wantOK:       false,
			reasonSubstr: "does not exist",
		},
		{
			name:         "missing checksum file",
			artifact:     &Artifact{Path: noChecksum},
			wantOK:       false,
			reasonSubstr: "checksum file",
		},
		{
			name:         "checksum mismatch",
			artifact:     &Artifact{Path: tampered},
			wantOK:       false,
			reasonSubstr: "mismatch",
		},
		{
			name:         "nil artifact",
			artifact:     nil,
			wantOK:       false,
			reasonSubstr: "no artifact",
		},
		{
			name:         "checksum from descriptor",
			artifact:     &Artifact{Path: good, Checksum: "deadbeef"},
			wantOK:       false,
			reasonSubstr: "mismatch",
		},
	}

	v := NewVerifier(zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Verify(tt.artifact)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, result.OK)
			assert.Contains(t, result.Reason, tt.reasonSubstr)
		})
	}
}

// Verifying the same unmodified artifact twice yields the same answer.
func TestVerifyIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "app.tar.gz", "stable content")
	_, err := WriteChecksumFile(path)
	require.NoError(t, err)

	v := NewVerifier(zaptest.NewLogger(t))
	art := &Artifact{Path: path}

	first, err := v.Verify(art)
	require.NoError(t, err)
	second, err := v.Verify(art)
	require.NoError(t, err)

	assert.Equal(t, first.OK, second.OK)
	assert.True(t, first.OK)
}

func TestVerifyUppercaseChecksumFile(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "app.tar.gz", "content")

	sum, err := fileSHA256(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".sha256", []byte("  "+toUpper(sum)+"  app.tar.gz\n"), 0o644))

	result, err := NewVerifier(nil).Verify(&Artifact{Path: path})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func toUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 32
		}
	}
	return string(out)
}

func TestLoadArtifactManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "prod-backup.tar.gz", "payload")

	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	art := &Artifact{
		Path:           path,
		Checksum:       "abc123",
		CreatedAt:      created,
		Environment:    "production",
		InstallCommand: "npm ci",
	}
	require.NoError(t, art.WriteManifest())

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, "abc123", loaded.Checksum)
	assert.Equal(t, "npm ci", loaded.InstallCommand)
	assert.True(t, loaded.CreatedAt.Equal(created))
}

func TestLoadArtifactWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "plain.tar.gz", "payload")
	sum, err := WriteChecksumFile(path)
	require.NoError(t, err)

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, sum, loaded.Checksum)
	assert.Empty(t, loaded.Environment)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestLoadArtifactMissing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.tar.gz"))
	require.Error(t, err)
}
