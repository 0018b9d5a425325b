package executor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotWorkspace_EmptyDirReturnsNil(t *testing.T) {
	dir := t.TempDir()
	if got := snapshotWorkspace(dir); got != nil {
		t.Fatalf("got %v, want nil for an empty workspace", got)
	}
}

func TestSnapshotWorkspace_MissingDirReturnsNil(t *testing.T) {
	if got := snapshotWorkspace(filepath.Join(t.TempDir(), "does-not-exist")); got != nil {
		t.Fatalf("got %v, want nil for a missing workspace", got)
	}
}

func TestSnapshotWorkspace_HashesFilesAndSkipsIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "dep.js"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	artifacts := snapshotWorkspace(dir)
	if len(artifacts) != 1 {
		t.Fatalf("got %d artifacts, want 1 (node_modules should be skipped): %+v", len(artifacts), artifacts)
	}
	a := artifacts[0]
	if a.Path != "main.go" {
		t.Fatalf("got path %q, want main.go", a.Path)
	}
	if a.SizeBytes != int64(len("package main\n")) {
		t.Fatalf("got size %d, want %d", a.SizeBytes, len("package main\n"))
	}
	if a.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}
	if a.ID != a.ContentHash[:16] {
		t.Fatalf("got ID %q, want the hash's first 16 chars %q", a.ID, a.ContentHash[:16])
	}
}

func TestSnapshotWorkspace_SameContentSameHash(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	content := []byte("identical contents\n")
	if err := os.WriteFile(filepath.Join(dir1, "a.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir2, "b.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	got1 := snapshotWorkspace(dir1)
	got2 := snapshotWorkspace(dir2)
	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("expected one artifact from each workspace, got %d and %d", len(got1), len(got2))
	}
	if got1[0].ContentHash != got2[0].ContentHash {
		t.Fatalf("expected identical content to hash the same, got %q and %q", got1[0].ContentHash, got2[0].ContentHash)
	}
}
