//go:build windows

package watch

import (
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	notifyChangeMask = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
		windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
		windows.FILE_NOTIFY_CHANGE_SIZE |
		windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
		windows.FILE_NOTIFY_CHANGE_SECURITY

	readBufferSize = 64 * 1024
)

// fileNotifyInformation mirrors the FILE_NOTIFY_INFORMATION struct that
// ReadDirectoryChangesW writes into the caller's buffer.
type fileNotifyInformation struct {
	NextEntryOffset uint32
	Action          uint32
	FileNameLength  uint32
}

// watchHandle is one ReadDirectoryChangesW subscription: a single directory
// handle watched recursively for both name and content changes.
type watchHandle struct {
	path      string
	handle    windows.Handle
	overlapped windows.Overlapped
	buffer    [readBufferSize]byte
}

// windowsBackend watches a tree with ReadDirectoryChangesW, mirroring the
// shadow-tree approach the legacy Python backend uses to distinguish a
// content modification on a file from a no-op modification notification on
// its parent directory, and to pair up rename halves.
type windowsBackend struct {
	root string

	mu     sync.Mutex
	shadow map[string]*shadowNode

	events chan Event
	errors chan error
	done   chan struct{}

	pendingRenameFrom string
}

type shadowNode struct {
	dirs  map[string]*shadowNode
	isDir bool
}

func newShadowNode(isDir bool) *shadowNode {
	return &shadowNode{dirs: make(map[string]*shadowNode), isDir: isDir}
}

func newBackend() (Backend, error) {
	return &windowsBackend{
		shadow: make(map[string]*shadowNode),
		events: make(chan Event, 64),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}, nil
}

func (b *windowsBackend) Events() <-chan Event { return b.events }
func (b *windowsBackend) Errors() <-chan error { return b.errors }

func (b *windowsBackend) Close() error {
	close(b.done)
	return nil
}

func (b *windowsBackend) AddDirWatch(root string) error {
	b.root = root
	b.shadow[root] = newShadowNode(true)
	b.snapshotInto(root)

	handle, err := windows.CreateFile(
		windows.StringToUTF16Ptr(root),
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return err
	}

	wh := &watchHandle{path: root, handle: handle}
	go b.loop(wh)
	return nil
}

// snapshotInto populates the shadow tree for a directory that's about to
// start being watched, so the first round of events can tell genuinely new
// entries from ones that existed before the watch was attached.
func (b *windowsBackend) snapshotInto(root string) {
	node := b.nodeFor(root)
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			node.dirs[entry.Name()] = newShadowNode(true)
			b.snapshotInto(path)
		} else {
			node.dirs[entry.Name()] = newShadowNode(false)
		}
	}
}

func (b *windowsBackend) nodeFor(path string) *shadowNode {
	if node, ok := b.shadow[path]; ok {
		return node
	}
	node := newShadowNode(true)
	b.shadow[path] = node
	return node
}

func (b *windowsBackend) loop(wh *watchHandle) {
	defer close(b.events)
	defer windows.CloseHandle(wh.handle)

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		b.fail(err)
		return
	}
	defer windows.CloseHandle(event)
	wh.overlapped.HEvent = event

	for {
		select {
		case <-b.done:
			return
		default:
		}

		var bytesReturned uint32
		err := windows.ReadDirectoryChanges(
			wh.handle,
			&wh.buffer[0],
			uint32(len(wh.buffer)),
			true,
			notifyChangeMask,
			&bytesReturned,
			&wh.overlapped,
			0,
		)
		if err != nil {
			b.fail(err)
			return
		}

		waitEvent, err := windows.WaitForSingleObject(event, windows.INFINITE)
		if err != nil || waitEvent != windows.WAIT_OBJECT_0 {
			b.fail(err)
			return
		}

		if err := windows.GetOverlappedResult(wh.handle, &wh.overlapped, &bytesReturned, false); err != nil {
			b.fail(err)
			return
		}
		if bytesReturned == 0 {
			continue
		}

		b.processBuffer(wh.path, wh.buffer[:bytesReturned])
	}
}

func (b *windowsBackend) processBuffer(root string, buffer []byte) {
	offset := 0
	for {
		info := (*fileNotifyInformation)(unsafe.Pointer(&buffer[offset]))
		nameOffset := offset + int(unsafe.Sizeof(*info))
		nameBytes := buffer[nameOffset : nameOffset+int(info.FileNameLength)]
		name := windows.UTF16ToString(bytesToUTF16(nameBytes))
		path := filepath.Join(root, name)

		b.handleAction(info.Action, path)

		if info.NextEntryOffset == 0 {
			break
		}
		offset += int(info.NextEntryOffset)
	}
}

func bytesToUTF16(b []byte) []uint16 {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return u
}

const (
	actionAdded          = 1
	actionRemoved        = 2
	actionModified       = 3
	actionRenamedOldName = 4
	actionRenamedNewName = 5
)

func (b *windowsBackend) handleAction(action uint32, path string) {
	parent := filepath.Dir(path)
	name := filepath.Base(path)
	node := b.shadow[parent]

	switch action {
	case actionAdded:
		info, err := os.Stat(path)
		isDir := err == nil && info.IsDir()
		if node != nil {
			node.dirs[name] = newShadowNode(isDir)
		}
		if isDir {
			b.emit(Event{Kind: DirectoryCreated, Path: path})
			b.snapshotInto(path)
		} else {
			b.emit(Event{Kind: FileCreated, Path: path})
		}
	case actionModified:
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		if node != nil {
			if _, known := node.dirs[name]; !known {
				node.dirs[name] = newShadowNode(false)
				b.emit(Event{Kind: FileCreated, Path: path})
			}
		}
		b.emit(Event{Kind: FileModified, Path: path})
	case actionRemoved:
		removedIsDir := false
		if node != nil {
			if child, known := node.dirs[name]; known {
				removedIsDir = child.isDir
				delete(node.dirs, name)
			}
		}
		if removedIsDir {
			b.emit(Event{Kind: DirectoryRemoved, Path: path})
		} else {
			b.emit(Event{Kind: FileRemoved, Path: path})
		}
	case actionRenamedOldName:
		b.pendingRenameFrom = path
	case actionRenamedNewName:
		if b.pendingRenameFrom != "" {
			b.emit(Event{Kind: ItemMoved, Path: b.pendingRenameFrom, DestPath: path})
			if node != nil {
				node.dirs[name] = newShadowNode(false)
			}
			b.pendingRenameFrom = ""
		}
	}
}

func (b *windowsBackend) fail(err error) {
	if err == nil {
		return
	}
	select {
	case b.errors <- err:
	case <-b.done:
	}
}

func (b *windowsBackend) emit(e Event) {
	select {
	case b.events <- e:
	case <-b.done:
	}
}
