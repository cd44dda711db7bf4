package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/logging"
)

// EventKind identifies the kind of mutation a Workspace reports to its
// registered handlers.
type EventKind int

const (
	EventDirectoryCreated EventKind = iota
	EventDirectoryRemoved
	EventFileCreated
	EventFileModified
	EventFileRemoved
	EventItemMoved
)

// Event is a single workspace mutation, normalized from whatever source
// produced it (a local mutation call, or a watcher backend). Path and
// DestPath are workspace-relative, "/"-separated; DestPath is only set for
// EventItemMoved.
type Event struct {
	Kind     EventKind
	Path     string
	DestPath string
}

// Handler receives workspace events. Dispatch is fan-out, non-blocking from
// the workspace's perspective: a Handler that wants to do real work should
// hand the event off (e.g. to a channel) rather than block Dispatch.
type Handler interface {
	HandleWorkspaceEvent(Event)
}

// Workspace is a single directory tree, mirrored from or to a peer. It owns
// the ignore rules computed at construction, exposes the mutation
// primitives a command dispatcher applies on behalf of a peer, and fans out
// normalized events (from either its own mutation calls or an external
// watcher) to registered handlers.
type Workspace struct {
	root     string
	ignore   *ignoreSet
	logger   *logging.Logger
	handlers []Handler
}

// New creates, if necessary, the directory at root and builds its ignore
// rule set (built-in patterns plus any .gitignore at the root).
func New(root string, logger *logging.Logger) (*Workspace, error) {
	root = filepath.Clean(root)
	if info, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "unable to stat workspace root")
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, errors.Wrap(err, "unable to create workspace root")
		}
	} else if !info.IsDir() {
		return nil, errors.Errorf("workspace root '%s' is not a directory", root)
	}

	ignore, err := newIgnoreSet(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load ignore rules")
	}

	return &Workspace{root: root, ignore: ignore, logger: logger}, nil
}

// Root returns the workspace's absolute root path.
func (w *Workspace) Root() string {
	return w.root
}

// RegisterHandler adds a handler to the workspace's fan-out list.
func (w *Workspace) RegisterHandler(h Handler) {
	w.handlers = append(w.handlers, h)
}

// resolve converts a "/"-separated, workspace-relative path into an
// absolute local path, applying the local path separator.
func (w *Workspace) resolve(relPath string) string {
	return filepath.Join(w.root, filepath.FromSlash(relPath))
}

// ResolvePath exposes resolve to callers (the sync orchestrator) that need
// to read a file directly off disk rather than through a mutation primitive.
func (w *Workspace) ResolvePath(relPath string) string {
	return w.resolve(relPath)
}

// CreateDirectory creates a directory (and any missing parents) at rel,
// idempotently.
func (w *Workspace) CreateDirectory(rel string) error {
	path := w.resolve(rel)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create directory '%s'", rel)
	}
	w.dispatch(Event{Kind: EventDirectoryCreated, Path: rel})
	return nil
}

// RemoveDirectory removes a directory and its contents at rel, idempotently.
func (w *Workspace) RemoveDirectory(rel string) error {
	path := w.resolve(rel)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.Wrapf(err, "unable to remove directory '%s'", rel)
	}
	w.dispatch(Event{Kind: EventDirectoryRemoved, Path: rel})
	return nil
}

// WriteFile writes data to the file at rel, creating parent directories as
// needed. When overwrite is true the file is truncated first; otherwise
// data is appended, supporting the chunked transfer scheme where only the
// first fragment of a file carries overwrite=true.
func (w *Workspace) WriteFile(rel string, data []byte, overwrite bool) error {
	path := w.resolve(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create parent directory for '%s'", rel)
	}

	flags := os.O_WRONLY | os.O_CREATE
	existed := fileExists(path)
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to open file '%s'", rel)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "unable to write file '%s'", rel)
	}

	if existed && !overwrite {
		w.dispatch(Event{Kind: EventFileModified, Path: rel})
	} else {
		w.dispatch(Event{Kind: EventFileCreated, Path: rel})
	}
	return nil
}

// RemoveFile removes the file at rel, idempotently.
func (w *Workspace) RemoveFile(rel string) error {
	path := w.resolve(rel)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "unable to remove file '%s'", rel)
	}
	w.dispatch(Event{Kind: EventFileRemoved, Path: rel})
	return nil
}

// MoveItem renames the item at srcRel to dstRel. os.Rename moves a symlink
// atomically without dereferencing it, so no special-casing is needed even
// though the workspace never surfaces symlinks through a snapshot.
func (w *Workspace) MoveItem(srcRel, dstRel string) error {
	src, dst := w.resolve(srcRel), w.resolve(dstRel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create parent directory for '%s'", dstRel)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "unable to move '%s' to '%s'", srcRel, dstRel)
	}
	w.dispatch(Event{Kind: EventItemMoved, Path: srcRel, DestPath: dstRel})
	return nil
}

// SetPerm sets the low 9 permission bits on POSIX; it is a no-op on Windows,
// where those bits have no useful meaning.
func (w *Workspace) SetPerm(rel string, mode os.FileMode) error {
	return w.setPerm(rel, mode)
}

// HandleEvent accepts a normalized event from an external source (a
// filesystem watcher backend) and fans it out like a locally-originated
// mutation would. Events whose path contains a ".git" path component are
// dropped before dispatch, matching the workspace's own .git exclusion.
func (w *Workspace) HandleEvent(e Event) {
	w.dispatch(e)
}

func (w *Workspace) dispatch(e Event) {
	if containsGitComponent(e.Path) || containsGitComponent(e.DestPath) {
		return
	}
	for _, h := range w.handlers {
		h.HandleWorkspaceEvent(e)
	}
}

func containsGitComponent(relPath string) bool {
	if relPath == "" {
		return false
	}
	for _, part := range strings.Split(relPath, "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
