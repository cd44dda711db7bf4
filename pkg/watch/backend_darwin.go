//go:build darwin

package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// shadowNode mirrors one level of the watched tree so the backend can tell,
// when a kqueue VNODE event fires on a directory, which entries are new
// (since kqueue only reports "something changed here", not what) and, when
// a watched path disappears, which of its descendants need synthetic
// removal events.
type shadowNode struct {
	dirs  map[string]*shadowNode
	isDir bool
}

func newShadowNode(isDir bool) *shadowNode {
	return &shadowNode{dirs: make(map[string]*shadowNode), isDir: isDir}
}

type watchEntry struct {
	path string
	fd   int
}

// kqueueBackend watches a tree with kqueue's EVFILT_VNODE filter, which
// (unlike inotify) requires one open file descriptor per watched path and
// reports only "this path changed" rather than what changed. A directory
// change is resolved by diffing the live directory listing against the
// shadow tree; a watched path's disappearance is resolved by walking the
// shadow tree for everything beneath the surviving ancestor.
type kqueueBackend struct {
	kq int

	mu      sync.Mutex
	watches map[int]*watchEntry // keyed by fd
	shadow  map[string]*shadowNode
	root    string

	events chan Event
	errors chan error
	done   chan struct{}
}

func newBackend() (Backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{
		kq:      kq,
		watches: make(map[int]*watchEntry),
		shadow:  make(map[string]*shadowNode),
		events:  make(chan Event, 64),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}, nil
}

func (b *kqueueBackend) Events() <-chan Event { return b.events }
func (b *kqueueBackend) Errors() <-chan error { return b.errors }

func (b *kqueueBackend) Close() error {
	close(b.done)
	b.mu.Lock()
	for fd := range b.watches {
		unix.Close(fd)
	}
	b.mu.Unlock()
	return unix.Close(b.kq)
}

func (b *kqueueBackend) AddDirWatch(root string) error {
	b.root = root
	b.shadow[root] = newShadowNode(true)
	if err := b.addDirWatchRecursive(root); err != nil {
		return err
	}
	go b.loop()
	return nil
}

const vnodeFlags = unix.NOTE_DELETE | unix.NOTE_WRITE | unix.NOTE_EXTEND |
	unix.NOTE_ATTRIB | unix.NOTE_LINK | unix.NOTE_RENAME | unix.NOTE_REVOKE

func (b *kqueueBackend) addWatch(path string) error {
	fd, err := unix.Open(path, unix.O_EVTONLY, 0)
	if err != nil {
		if err == unix.EACCES {
			return nil
		}
		return err
	}

	kevent := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR,
		Fflags: vnodeFlags,
	}
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{kevent}, nil, nil); err != nil {
		unix.Close(fd)
		return err
	}

	b.mu.Lock()
	b.watches[fd] = &watchEntry{path: path, fd: fd}
	b.mu.Unlock()
	return nil
}

func (b *kqueueBackend) addDirWatchRecursive(root string) error {
	if err := b.addWatch(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	node := b.shadowNodeFor(root)
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			node.dirs[entry.Name()] = newShadowNode(true)
			if err := b.addDirWatchRecursive(path); err != nil {
				return err
			}
		} else {
			node.dirs[entry.Name()] = newShadowNode(false)
			if err := b.addWatch(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *kqueueBackend) shadowNodeFor(path string) *shadowNode {
	if node, ok := b.shadow[path]; ok {
		return node
	}
	node := newShadowNode(true)
	b.shadow[path] = node
	return node
}

func (b *kqueueBackend) removeWatch(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for fd, entry := range b.watches {
		if entry.path == path {
			unix.Close(fd)
			delete(b.watches, fd)
			return
		}
	}
}

func (b *kqueueBackend) loop() {
	defer close(b.events)

	timeout := unix.NsecToTimespec((5 * time.Millisecond).Nanoseconds())
	for {
		select {
		case <-b.done:
			return
		default:
		}

		b.mu.Lock()
		kevents := make([]unix.Kevent_t, 0, len(b.watches))
		paths := make([]string, 0, len(b.watches))
		for fd, entry := range b.watches {
			kevents = append(kevents, unix.Kevent_t{
				Ident:  uint64(fd),
				Filter: unix.EVFILT_VNODE,
				Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR,
				Fflags: vnodeFlags,
			})
			paths = append(paths, entry.path)
		}
		b.mu.Unlock()

		if len(kevents) == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		out := make([]unix.Kevent_t, len(kevents))
		n, err := unix.Kevent(b.kq, kevents, out, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case b.errors <- err:
			case <-b.done:
			}
			return
		}
		if n == 0 {
			continue
		}

		triggered := out[:n]
		sort.Slice(triggered, func(i, j int) bool {
			pi := b.pathForFD(int(triggered[i].Ident))
			pj := b.pathForFD(int(triggered[j].Ident))
			return strings.Count(pi, string(filepath.Separator)) > strings.Count(pj, string(filepath.Separator))
		})

		for _, kevent := range triggered {
			path := b.pathForFD(int(kevent.Ident))
			if path == "" {
				continue
			}
			b.handleChange(path)
		}
	}
}

func (b *kqueueBackend) pathForFD(fd int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.watches[fd]; ok {
		return entry.path
	}
	return ""
}

func (b *kqueueBackend) handleChange(target string) {
	if _, err := os.Stat(target); err != nil {
		b.handleRemoval(target)
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		return
	}
	if info.IsDir() {
		b.scanForNewEntries(target)
		return
	}
	b.emit(Event{Kind: FileModified, Path: target})
}

// handleRemoval walks up from target to find the deepest surviving
// ancestor, then emits removal events for every descendant recorded in the
// shadow tree beneath it, deepest first.
func (b *kqueueBackend) handleRemoval(target string) {
	removedRoot := target
	parent := filepath.Dir(target)
	for {
		if _, err := os.Stat(parent); err == nil {
			break
		}
		removedRoot = parent
		parent = filepath.Dir(parent)
		if parent == removedRoot {
			break
		}
	}

	node, ok := b.shadow[removedRoot]
	if ok {
		b.emitRemovalTree(removedRoot, node)
	} else {
		b.emit(Event{Kind: FileRemoved, Path: removedRoot})
	}
	delete(b.shadow, removedRoot)

	grandparentNode, ok := b.shadow[filepath.Dir(removedRoot)]
	if ok {
		delete(grandparentNode.dirs, filepath.Base(removedRoot))
	}
	b.removeWatch(removedRoot)
}

func (b *kqueueBackend) emitRemovalTree(path string, node *shadowNode) {
	for name, child := range node.dirs {
		childPath := filepath.Join(path, name)
		if child.isDir {
			b.emitRemovalTree(childPath, child)
			b.emit(Event{Kind: DirectoryRemoved, Path: childPath})
		} else {
			b.emit(Event{Kind: FileRemoved, Path: childPath})
		}
		b.removeWatch(childPath)
	}
	if node.isDir && path != b.root {
		b.emit(Event{Kind: DirectoryRemoved, Path: path})
	} else if !node.isDir {
		b.emit(Event{Kind: FileRemoved, Path: path})
	}
}

// scanForNewEntries diffs a directory's current listing against the shadow
// tree to synthesize creation events kqueue itself doesn't describe.
func (b *kqueueBackend) scanForNewEntries(dir string) {
	node := b.shadowNodeFor(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if _, known := node.dirs[entry.Name()]; known {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			node.dirs[entry.Name()] = newShadowNode(true)
			b.emit(Event{Kind: DirectoryCreated, Path: path})
			b.addDirWatchRecursive(path)
		} else {
			node.dirs[entry.Name()] = newShadowNode(false)
			b.emit(Event{Kind: FileCreated, Path: path})
			b.addWatch(path)
			b.emit(Event{Kind: FileModified, Path: path})
		}
	}
}

func (b *kqueueBackend) emit(e Event) {
	select {
	case b.events <- e:
	case <-b.done:
	}
}
