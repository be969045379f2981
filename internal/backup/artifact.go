package backup

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Artifact describes one backup produced by the backup-creation tooling.
// It is read-only to the monitor and rollback controller: the file it points
// at is never mutated or deleted by this package.
type Artifact struct {
	Path        string    `yaml:"path"`
	Checksum    string    `yaml:"checksum"`
	CreatedAt   time.Time `yaml:"created_at"`
	Environment string    `yaml:"environment"`

	// InstallCommand is the dependency-install command recorded at backup
	// time, used by the rollback controller to reinstall the exact
	// dependency set that matches the restored tree.
	InstallCommand string `yaml:"install_command,omitempty"`
}

// manifestPath returns the sidecar manifest location for an artifact file.
func manifestPath(artifactPath string) string {
	return artifactPath + ".meta.yaml"
}

// checksumPath returns the companion checksum file location for an artifact.
func checksumPath(artifactPath string) string {
	return artifactPath + ".sha256"
}

// LoadArtifact builds an Artifact descriptor for the file at path.
//
// When a <path>.meta.yaml sidecar manifest exists it is authoritative for the
// environment tag, creation time and install command. Without a manifest the
// descriptor is synthesized from the file's modification time and the
// companion checksum file (if any).
func LoadArtifact(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup artifact %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("backup artifact %s is a directory", path)
	}

	art := &Artifact{
		Path:      path,
		CreatedAt: info.ModTime(),
	}

	if data, err := os.ReadFile(manifestPath(path)); err == nil {
		if err := yaml.Unmarshal(data, art); err != nil {
			return nil, fmt.Errorf("parse manifest for %s: %w", path, err)
		}
		// The manifest may have been copied alongside the artifact from
		// another host; the path on disk wins.
		art.Path = path
	}

	if art.Checksum == "" {
		if sum, err := readChecksumFile(checksumPath(path)); err == nil {
			art.Checksum = sum
		}
	}

	return art, nil
}

// Static is an artifact source pinned to one artifact, used when the
// operator names a backup file explicitly instead of a catalog directory.
type Static struct {
	Artifact *Artifact
}

// Latest returns the pinned artifact regardless of environment.
func (s Static) Latest(string) *Artifact { return s.Artifact }

// WriteManifest persists the artifact's sidecar manifest next to its file.
func (a *Artifact) WriteManifest() error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(a.Path), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
