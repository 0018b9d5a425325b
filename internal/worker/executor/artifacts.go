package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/claudecluster/core/internal/model"
)

// snapshotSkipDirs are directories excluded from a workspace snapshot,
// mirroring the mock agent's file-discovery skip list.
var snapshotSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".next": true,
	"dist": true, "build": true, "bin": true, "__pycache__": true,
	".cache": true, ".turbo": true,
}

// maxSnapshotFiles bounds how many artifacts a single snapshot records, so
// a workspace with an unexpectedly large tree can't blow up a task result.
const maxSnapshotFiles = 500

// snapshotWorkspace walks workDir and returns one Artifact per regular
// file found, content-hashed with sha256. Used after a successful
// execution to capture what the task produced (spec's "workspace
// snapshot becomes the result"). Errors walking or hashing an individual
// file are skipped rather than failing the whole snapshot - a partially
// readable workspace still produces a useful result.
func snapshotWorkspace(workDir string) []model.Artifact {
	if workDir == "" {
		return nil
	}
	info, err := os.Stat(workDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	var artifacts []model.Artifact
	_ = filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != workDir && snapshotSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(artifacts) >= maxSnapshotFiles {
			return filepath.SkipAll
		}

		hash, size, err := hashFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			rel = d.Name()
		}

		artifacts = append(artifacts, model.Artifact{
			ID:          hash[:16],
			Type:        "file",
			Name:        d.Name(),
			Path:        rel,
			SizeBytes:   size,
			ContentHash: hash,
			CreatedAt:   time.Now(),
		})
		return nil
	})
	return artifacts
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
