package workspace

// Diff is the result of comparing two snapshots: a tree, shaped exactly
// like a Snapshot, describing the mutations that would bring a workspace in
// state "remote" to state "local". A Diff node reachable under Dirs may
// either recurse further (Dirs/Files populated) or be marked Removed,
// meaning the corresponding directory exists only in "remote" and should be
// removed outright rather than walked.
type Diff struct {
	// Removed marks this node as present only in the remote snapshot; it is
	// only ever set on values inside a parent's Dirs map, never on the root
	// of a Diff.
	Removed bool
	Dirs    map[string]*Diff
	Files   map[string]string
}

// Empty reports whether a diff carries no mutations at all.
func (d *Diff) Empty() bool {
	return d == nil || (!d.Removed && len(d.Dirs) == 0 && len(d.Files) == 0)
}

// ComputeDiff computes diff(local, remote): the tree of mutations that, if
// applied to a workspace currently in the "remote" state, produce the
// "local" state. A nil snapshot is treated as empty.
//
// Properties (see the diff algebra test file): ComputeDiff(X, X) is empty;
// applying ComputeDiff(X, Y) to a workspace in state Y yields state X.
func ComputeDiff(local, remote *Snapshot) *Diff {
	if local == nil {
		local = newSnapshot()
	}
	if remote == nil {
		remote = newSnapshot()
	}

	result := &Diff{Dirs: make(map[string]*Diff), Files: make(map[string]string)}

	for name, localSub := range local.Dirs {
		remoteSub, present := remote.Dirs[name]
		if !present {
			result.Dirs[name] = ComputeDiff(localSub, nil)
			continue
		}
		sub := ComputeDiff(localSub, remoteSub)
		if !sub.Empty() {
			result.Dirs[name] = sub
		}
	}
	for name := range remote.Dirs {
		if _, present := local.Dirs[name]; !present {
			result.Dirs[name] = &Diff{Removed: true}
		}
	}

	for name, hash := range local.Files {
		if remoteHash, present := remote.Files[name]; !present || remoteHash != hash {
			result.Files[name] = hash
		}
	}
	for name := range remote.Files {
		if _, present := local.Files[name]; !present {
			result.Files[name] = Removed
		}
	}

	return result
}
