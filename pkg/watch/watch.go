// Package watch observes a directory tree for filesystem mutations and
// normalizes them into a small, OS-independent event vocabulary. Each
// platform backend (inotify on Linux, kqueue on macOS, ReadDirectoryChangesW
// on Windows) is responsible for translating its native event stream into
// this vocabulary; everything above the backend (the workspace adapter) is
// platform-agnostic.
package watch

// EventKind is the normalized kind of a filesystem change.
type EventKind int

const (
	DirectoryCreated EventKind = iota
	DirectoryRemoved
	FileCreated
	FileModified
	FileRemoved
	ItemMoved
)

func (k EventKind) String() string {
	switch k {
	case DirectoryCreated:
		return "DIRECTORY_CREATED"
	case DirectoryRemoved:
		return "DIRECTORY_REMOVED"
	case FileCreated:
		return "FILE_CREATED"
	case FileModified:
		return "FILE_MODIFIED"
	case FileRemoved:
		return "FILE_REMOVED"
	case ItemMoved:
		return "ITEM_MOVED"
	default:
		return "UNKNOWN"
	}
}

// Event is a single normalized filesystem change. Path is always an
// absolute path; for ItemMoved, Path is the source and DestPath is the
// destination.
type Event struct {
	Kind     EventKind
	Path     string
	DestPath string
}

// Backend is the platform-specific half of a Watcher: it knows how to add a
// recursive watch rooted at a path and deliver normalized events for
// whatever happens underneath it.
type Backend interface {
	// AddDirWatch recursively watches root and everything currently beneath
	// it.
	AddDirWatch(root string) error
	// Events returns the channel events are delivered on. It is closed when
	// the backend encounters a fatal error or Close is called; Errors
	// carries the fatal error, if any.
	Events() <-chan Event
	// Errors returns the channel fatal backend errors are delivered on
	// (ENOSPC/EMFILE on Linux, equivalent conditions elsewhere).
	Errors() <-chan error
	// Close releases backend resources (file descriptors, goroutines).
	Close() error
}

// Watcher is the OS-independent facade used by the rest of the program: it
// wraps whichever Backend is appropriate for the host OS (selected by
// newBackend in the platform-specific backend_*.go files) and watches a
// single root directory.
type Watcher struct {
	root    string
	backend Backend
}

// New creates a watcher for root using the platform's native backend and
// starts watching root recursively.
func New(root string) (*Watcher, error) {
	backend, err := newBackend()
	if err != nil {
		return nil, err
	}
	if err := backend.AddDirWatch(root); err != nil {
		backend.Close()
		return nil, err
	}
	return &Watcher{root: root, backend: backend}, nil
}

// Events returns the channel of normalized events, relative to nothing in
// particular — paths carried on the channel are absolute; callers that want
// workspace-relative paths trim the root prefix themselves (mirroring the
// original implementation, which performs this trim in its dispatch loop
// rather than in the backend).
func (w *Watcher) Events() <-chan Event {
	return w.backend.Events()
}

// Errors returns the channel of fatal backend errors.
func (w *Watcher) Errors() <-chan error {
	return w.backend.Errors()
}

// Close stops the watcher and releases its backend resources.
func (w *Watcher) Close() error {
	return w.backend.Close()
}

// Root returns the absolute path the watcher was constructed with.
func (w *Watcher) Root() string {
	return w.root
}
