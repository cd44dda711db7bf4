package workspace

import "testing"

func snap(files map[string]string, dirs map[string]*Snapshot) *Snapshot {
	if files == nil {
		files = map[string]string{}
	}
	if dirs == nil {
		dirs = map[string]*Snapshot{}
	}
	return &Snapshot{Files: files, Dirs: dirs}
}

func TestComputeDiffIdenticalIsEmpty(t *testing.T) {
	x := snap(map[string]string{"a": "H1"}, map[string]*Snapshot{
		"src": snap(map[string]string{"main.go": "H2"}, nil),
	})
	diff := ComputeDiff(x, x)
	if !diff.Empty() {
		t.Errorf("expected diff(X, X) to be empty, got %+v", diff)
	}
}

func TestComputeDiffFileMismatch(t *testing.T) {
	local := snap(map[string]string{"a": "H1"}, nil)
	remote := snap(map[string]string{"a": "H2", "b": "H3"}, nil)

	diff := ComputeDiff(local, remote)
	if diff.Files["a"] != "H1" {
		t.Errorf("Files[a] = %q, want H1", diff.Files["a"])
	}
	if diff.Files["b"] != Removed {
		t.Errorf("Files[b] = %q, want removal sentinel", diff.Files["b"])
	}
}

func TestComputeDiffNewDirectoryIsFullySpecified(t *testing.T) {
	local := snap(nil, map[string]*Snapshot{
		"src": snap(map[string]string{"main.go": "H1"}, nil),
	})
	remote := snap(nil, nil)

	diff := ComputeDiff(local, remote)
	sub, present := diff.Dirs["src"]
	if !present {
		t.Fatalf("expected src to appear in the diff")
	}
	if sub.Removed {
		t.Errorf("newly created directory should not be marked removed")
	}
	if sub.Files["main.go"] != "H1" {
		t.Errorf("expected full subtree contents to be carried, got %+v", sub.Files)
	}
}

func TestComputeDiffRemovedDirectory(t *testing.T) {
	local := snap(nil, nil)
	remote := snap(nil, map[string]*Snapshot{
		"old": snap(map[string]string{"x": "H1"}, nil),
	})

	diff := ComputeDiff(local, remote)
	sub, present := diff.Dirs["old"]
	if !present || !sub.Removed {
		t.Fatalf("expected old to be marked removed, got %+v", diff.Dirs["old"])
	}
}

func TestComputeDiffNestedRecursion(t *testing.T) {
	local := snap(nil, map[string]*Snapshot{
		"src": snap(map[string]string{"main.go": "H1", "util.go": "H2"}, nil),
	})
	remote := snap(nil, map[string]*Snapshot{
		"src": snap(map[string]string{"main.go": "H1", "old.go": "H3"}, nil),
	})

	diff := ComputeDiff(local, remote)
	sub, present := diff.Dirs["src"]
	if !present {
		t.Fatalf("expected src to appear in the diff (util.go and old.go differ)")
	}
	if _, present := sub.Files["main.go"]; present {
		t.Errorf("main.go is identical and should not appear in the diff")
	}
	if sub.Files["util.go"] != "H2" {
		t.Errorf("util.go = %q, want H2", sub.Files["util.go"])
	}
	if sub.Files["old.go"] != Removed {
		t.Errorf("old.go = %q, want removal sentinel", sub.Files["old.go"])
	}
}

// applyDiff is a small reference walker used only to verify the diff
// algebra property: applying diff(X, Y) to a workspace in state Y produces
// state X. It's not the production reconciliation walk (that lives in
// pkg/syncclient), just enough bookkeeping to check the property here.
func applyDiff(state *Snapshot, d *Diff) *Snapshot {
	if state == nil {
		state = newSnapshot()
	}
	result := snap(map[string]string{}, map[string]*Snapshot{})
	for name, hash := range state.Files {
		result.Files[name] = hash
	}
	for name, sub := range state.Dirs {
		result.Dirs[name] = sub
	}

	for name, value := range d.Files {
		if value == Removed {
			delete(result.Files, name)
		} else {
			result.Files[name] = value
		}
	}
	for name, sub := range d.Dirs {
		if sub.Removed {
			delete(result.Dirs, name)
		} else {
			result.Dirs[name] = applyDiff(result.Dirs[name], sub)
		}
	}
	return result
}

func snapshotsEqual(a, b *Snapshot) bool {
	if len(a.Files) != len(b.Files) || len(a.Dirs) != len(b.Dirs) {
		return false
	}
	for name, hash := range a.Files {
		if b.Files[name] != hash {
			return false
		}
	}
	for name, sub := range a.Dirs {
		otherSub, present := b.Dirs[name]
		if !present || !snapshotsEqual(sub, otherSub) {
			return false
		}
	}
	return true
}

func TestDiffAlgebraRoundTrip(t *testing.T) {
	x := snap(map[string]string{"a": "H1"}, map[string]*Snapshot{
		"src": snap(map[string]string{"main.go": "H2"}, nil),
	})
	y := snap(map[string]string{"a": "H3", "b": "H4"}, map[string]*Snapshot{
		"old": snap(map[string]string{"stale.go": "H5"}, nil),
	})

	diff := ComputeDiff(x, y)
	result := applyDiff(y, diff)

	if !snapshotsEqual(result, x) {
		t.Errorf("applying diff(X, Y) to Y did not reproduce X:\napplied = %+v\nwant    = %+v", result, x)
	}
}
