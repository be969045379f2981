package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// VerifyResult is the outcome of one integrity check. A failed verification
// is a result, not an error: the verifier always answers, it never silently
// passes and never aborts the caller.
type VerifyResult struct {
	OK     bool
	Reason string
}

// Verifier checks a backup artifact's integrity by recomputing a SHA-256
// checksum over its bytes and comparing it with the recorded one. The
// verifier itself never honors a force override; that decision belongs to
// the call site.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a backup verifier.
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger.Named("verifier")}
}

// Verify recomputes the artifact's checksum and compares it against the
// recorded one (the artifact descriptor's checksum, or the <path>.sha256
// companion file when the descriptor carries none).
//
// Missing artifact, missing checksum and mismatch all yield OK=false with a
// descriptive reason. An error is returned only for I/O failures while
// reading a file that does exist.
func (v *Verifier) Verify(artifact *Artifact) (VerifyResult, error) {
	if artifact == nil || artifact.Path == "" {
		return VerifyResult{OK: false, Reason: "no artifact given"}, nil
	}

	if _, err := os.Stat(artifact.Path); err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{OK: false, Reason: fmt.Sprintf("artifact file %s does not exist", artifact.Path)}, nil
		}
		return VerifyResult{}, fmt.Errorf("stat artifact: %w", err)
	}

	expected := strings.ToLower(strings.TrimSpace(artifact.Checksum))
	if expected == "" {
		sum, err := readChecksumFile(checksumPath(artifact.Path))
		if err != nil {
			if os.IsNotExist(err) {
				return VerifyResult{OK: false, Reason: fmt.Sprintf("checksum file %s does not exist", checksumPath(artifact.Path))}, nil
			}
			return VerifyResult{}, fmt.Errorf("read checksum file: %w", err)
		}
		expected = sum
	}

	actual, err := fileSHA256(artifact.Path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("hash artifact: %w", err)
	}

	if actual != expected {
		v.logger.Warn("checksum mismatch",
			zap.String("artifact", artifact.Path),
			zap.String("expected", expected),
			zap.String("actual", actual))
		return VerifyResult{
			OK:     false,
			Reason: fmt.Sprintf("checksum mismatch: expected %s, got %s", expected, actual),
		}, nil
	}

	v.logger.Debug("artifact verified", zap.String("artifact", artifact.Path))
	return VerifyResult{OK: true, Reason: "checksum verified"}, nil
}

// fileSHA256 hashes a file's content, returning lowercase hex.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readChecksumFile reads a sha256sum-style file: the first whitespace
// separated token is the hex digest, anything after it (the filename column)
// is ignored.
func readChecksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file %s is empty", path)
	}
	return strings.ToLower(fields[0]), nil
}

// WriteChecksumFile computes the artifact's SHA-256 and writes a
// sha256sum-compatible companion file next to it.
func WriteChecksumFile(artifactPath string) (string, error) {
	sum, err := fileSHA256(artifactPath)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", artifactPath, err)
	}
	line := fmt.Sprintf("%s  %s\n", sum, artifactPath)
	if err := os.WriteFile(checksumPath(artifactPath), []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("write checksum file: %w", err)
	}
	return sum, nil
}
