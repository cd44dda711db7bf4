package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wsterm/wsterm/pkg/logging"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws, err := New(root, logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ws
}

func TestSnapshotFileHash(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("a.txt", []byte("1234567890"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	snapshot, err := ws.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	want := "e807f1fcf82d132f9bb018ca6738a19f"
	if got := snapshot.Files["a.txt"]; got != want {
		t.Errorf("hash = %q, want %q", got, want)
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	wsA := newTestWorkspace(t)
	wsB := newTestWorkspace(t)

	for _, ws := range []*Workspace{wsA, wsB} {
		if err := ws.CreateDirectory("src"); err != nil {
			t.Fatalf("CreateDirectory failed: %v", err)
		}
		if err := ws.WriteFile("src/main.go", []byte("package main"), true); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := ws.WriteFile("README.md", []byte("hello"), true); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	snapA, err := wsA.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	snapB, err := wsB.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snapA.Files["README.md"] != snapB.Files["README.md"] {
		t.Errorf("expected identical README.md hashes across identical workspaces")
	}
	if snapA.Dirs["src"].Files["main.go"] != snapB.Dirs["src"].Files["main.go"] {
		t.Errorf("expected identical src/main.go hashes across identical workspaces")
	}
}

func TestSnapshotIgnoresGitDirectory(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := os.MkdirAll(filepath.Join(ws.Root(), ".git", "objects"), 0o755); err != nil {
		t.Fatalf("failed to set up .git directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Root(), ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644); err != nil {
		t.Fatalf("failed to write .git/HEAD: %v", err)
	}
	if err := ws.WriteFile("main.go", []byte("package main"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	snapshot, err := ws.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, present := snapshot.Dirs[".git"]; present {
		t.Errorf(".git directory should never appear in a snapshot")
	}
	if _, present := snapshot.Files["main.go"]; !present {
		t.Errorf("expected main.go to appear in the snapshot")
	}
}

func TestSnapshotIgnoresPycFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("module.pyc", []byte("compiled"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := ws.WriteFile("module.py", []byte("source"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	snapshot, err := ws.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, present := snapshot.Files["module.pyc"]; present {
		t.Errorf("module.pyc should be ignored by the built-in *.pyc rule")
	}
	if _, present := snapshot.Files["module.py"]; !present {
		t.Errorf("module.py should not be ignored")
	}
}

func TestSnapshotRespectsCustomGitignore(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile(".gitignore", []byte("*.tmp\n"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := ws.WriteFile("scratch.tmp", []byte("x"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := ws.WriteFile("keep.txt", []byte("y"), true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// The ignore set is computed at construction time, so reload it the way
	// a fresh connection would.
	ws2, err := New(ws.Root(), logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	snapshot, err := ws2.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, present := snapshot.Files["scratch.tmp"]; present {
		t.Errorf("scratch.tmp should be ignored per .gitignore")
	}
	if _, present := snapshot.Files["keep.txt"]; !present {
		t.Errorf("keep.txt should not be ignored")
	}
}
