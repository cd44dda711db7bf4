// Package syncclient implements the client-side sync orchestrator: the glue
// between a local pkg/workspace.Workspace, a pkg/watch.Watcher, and a
// pkg/transport.Session that turns the one into a live mirror of the other.
// It performs the one-shot reconciliation walk at session start and then
// keeps the remote workspace converged with local edits, coalescing bursts
// of writes the way an editor's save-then-fsync-then-touch sequence would
// otherwise spam the wire.
package syncclient

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wsterm/wsterm/pkg/contextutil"
	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
	"github.com/wsterm/wsterm/pkg/watch"
	"github.com/wsterm/wsterm/pkg/workspace"
)

// writeCoalesceDelay is the deadline a delayed write waits out before being
// pushed, coalescing an editor's save-burst into a single WRITE_FILE
// sequence.
const writeCoalesceDelay = 500 * time.Millisecond

// fragmentSize is the maximum number of file bytes carried by a single
// WRITE_FILE request.
const fragmentSize = 4 * 1024 * 1024

// pumpInterval is how often the pending-write map is checked for expired
// deadlines. It only needs to be small relative to writeCoalesceDelay.
const pumpInterval = 50 * time.Millisecond

// requestSender is the subset of *transport.Session the orchestrator needs.
// Narrowing to an interface keeps the reconciliation and live-event logic
// testable without a real WebSocket connection.
type requestSender interface {
	SendRequest(ctx context.Context, command proto.Command, fields map[string]interface{}) (*proto.Packet, error)
}

// Orchestrator drives the client side of a sync session: the initial
// reconciliation against a server's snapshot, and then live propagation of
// local workspace events as they arrive from a Watcher.
type Orchestrator struct {
	ws      *workspace.Workspace
	session requestSender
	logger  *logging.Logger

	mu            sync.Mutex
	pendingWrites map[string]time.Time

	runCtx context.Context

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an orchestrator bound to ws and session. Call SyncWorkspace to
// perform the initial reconciliation and then Run to begin forwarding live
// watcher events. session is ordinarily a *transport.Session; tests may
// supply any requestSender.
func New(ws *workspace.Workspace, session requestSender, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		ws:            ws,
		session:       session,
		logger:        logger,
		pendingWrites: make(map[string]time.Time),
		runCtx:        context.Background(),
		stop:          make(chan struct{}),
	}
}

// SyncWorkspace performs the one-shot reconciliation described in spec §4.3:
// it announces the workspace's stable identity, fetches the remote
// snapshot, computes the diff against the local tree, and walks that diff in
// deterministic pre-order applying CREATE_DIR/REMOVE_DIR/WRITE_FILE/
// REMOVE_FILE/SET_PERM commands. It registers the orchestrator as a
// workspace event handler before returning so subsequent local mutations are
// captured by HandleWorkspaceEvent.
func (o *Orchestrator) SyncWorkspace(ctx context.Context, hostname string) error {
	identity := workspace.Identity(o.ws.Root(), hostname)

	response, err := o.session.SendRequest(ctx, proto.CommandSyncWorkspace, map[string]interface{}{
		"workspace": identity,
	})
	if err != nil {
		return errors.Wrap(err, "sync-workspace request failed")
	}

	remote, err := decodeSnapshot(response.Fields["data"])
	if err != nil {
		return errors.Wrap(err, "unable to decode remote snapshot")
	}

	local, err := o.ws.Snapshot()
	if err != nil {
		return errors.Wrap(err, "unable to snapshot local workspace")
	}

	diff := workspace.ComputeDiff(local, remote)
	if err := o.applyDiff(ctx, "", diff); err != nil {
		return err
	}

	o.ws.RegisterHandler(o)
	return nil
}

// Run starts forwarding live events from watcher to the remote workspace and
// pumping the delayed-write map, until ctx is canceled or Close is called.
func (o *Orchestrator) Run(ctx context.Context, watcher *watch.Watcher) {
	o.runCtx = ctx
	o.wg.Add(2)
	go o.forwardWatcherEvents(ctx, watcher)
	go o.runPump(ctx)
}

// Close stops the pump and watcher-forwarding goroutines started by Run and
// waits for them to exit.
func (o *Orchestrator) Close() {
	close(o.stop)
	o.wg.Wait()
}

// applyDiff walks diff in the deterministic pre-order spec.md §4.3
// describes: for each dirs entry, CREATE_DIR an empty sub-tree, REMOVE_DIR a
// removed one, or recurse; for each files entry, REMOVE_FILE a removed one or
// stream a WRITE_FILE sequence followed by SET_PERM if executable.
func (o *Orchestrator) applyDiff(ctx context.Context, prefix string, diff *workspace.Diff) error {
	for _, name := range sortedKeys(diff.Dirs) {
		sub := diff.Dirs[name]
		rel := joinRel(prefix, name)

		switch {
		case sub.Removed:
			if _, err := o.session.SendRequest(ctx, proto.CommandRemoveDir, map[string]interface{}{"path": rel}); err != nil {
				return err
			}
		case sub.Empty():
			if _, err := o.session.SendRequest(ctx, proto.CommandCreateDir, map[string]interface{}{"path": rel}); err != nil {
				return err
			}
		default:
			if err := o.applyDiff(ctx, rel, sub); err != nil {
				return err
			}
		}
	}

	for _, name := range sortedFileKeys(diff.Files) {
		hash := diff.Files[name]
		rel := joinRel(prefix, name)

		if hash == workspace.Removed {
			if _, err := o.session.SendRequest(ctx, proto.CommandRemoveFile, map[string]interface{}{"path": rel}); err != nil {
				return err
			}
			continue
		}

		if err := o.sendFile(ctx, rel); err != nil {
			return err
		}
	}

	return nil
}

// sendFile streams the local file at rel to the peer as a contiguous
// sequence of WRITE_FILE fragments (all sent before moving to the next
// path, per spec.md §5's reconciliation ordering guarantee), then issues
// SET_PERM if any of the file's executable bits is set.
func (o *Orchestrator) sendFile(ctx context.Context, rel string) error {
	path := o.ws.ResolvePath(rel)

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "unable to stat '%s' for send", rel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "unable to read '%s' for send", rel)
	}

	if err := o.streamFragments(ctx, rel, data); err != nil {
		return err
	}

	if info.Mode().Perm()&0o111 != 0 {
		if _, err := o.session.SendRequest(ctx, proto.CommandSetPerm, map[string]interface{}{
			"path": rel,
			"perm": int(info.Mode().Perm()),
		}); err != nil {
			return err
		}
	}

	o.logger.Debugf("sent %s (%s)", rel, humanize.Bytes(uint64(len(data))))
	return nil
}

// streamFragments sends data as one or more WRITE_FILE requests of at most
// fragmentSize bytes, the first carrying overwrite=true and the rest
// overwrite=false. An empty file is sent as a single zero-byte fragment with
// overwrite=true so the remote truncates even when there's nothing to write.
func (o *Orchestrator) streamFragments(ctx context.Context, rel string, data []byte) error {
	if len(data) == 0 {
		_, err := o.session.SendRequest(ctx, proto.CommandWriteFile, map[string]interface{}{
			"path":      rel,
			"data":      []byte{},
			"overwrite": true,
		})
		return err
	}

	for offset := 0; offset < len(data); offset += fragmentSize {
		end := offset + fragmentSize
		if end > len(data) {
			end = len(data)
		}
		_, err := o.session.SendRequest(ctx, proto.CommandWriteFile, map[string]interface{}{
			"path":      rel,
			"data":      data[offset:end],
			"overwrite": offset == 0,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func joinRel(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func sortedKeys(m map[string]*workspace.Diff) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFileKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeSnapshot converts the generic map decoded from a sync-workspace
// response's "data" field into a typed Snapshot by round-tripping it through
// MessagePack: the wire representation and Snapshot's msgpack tags agree on
// shape, so re-encoding the already-decoded map and decoding it again into
// the typed struct is simpler and no less correct than walking the
// map[string]interface{} tree by hand.
func decodeSnapshot(raw interface{}) (*workspace.Snapshot, error) {
	if raw == nil {
		return nil, nil
	}
	encoded, err := msgpack.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var snapshot workspace.Snapshot
	if err := msgpack.Unmarshal(encoded, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// forwardWatcherEvents translates normalized watcher events (absolute paths)
// into workspace-relative events and hands them to the workspace, which
// dispatches them to this orchestrator's HandleWorkspaceEvent (among any
// other registered handlers).
func (o *Orchestrator) forwardWatcherEvents(ctx context.Context, watcher *watch.Watcher) {
	defer o.wg.Done()
	root := watcher.Root()

	for {
		select {
		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			o.ws.HandleEvent(workspace.Event{
				Kind:     translateKind(event.Kind),
				Path:     relativeToRoot(root, event.Path),
				DestPath: relativeToRoot(root, event.DestPath),
			})
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			o.logger.Error(errors.Wrap(err, "watcher reported a fatal error"))
			return
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		}
	}
}

// translateKind maps a watcher's normalized event kind to the workspace's
// own event-kind vocabulary; the two are intentionally identical in meaning
// but kept as distinct types since pkg/watch has no dependency on
// pkg/workspace.
func translateKind(k watch.EventKind) workspace.EventKind {
	switch k {
	case watch.DirectoryCreated:
		return workspace.EventDirectoryCreated
	case watch.DirectoryRemoved:
		return workspace.EventDirectoryRemoved
	case watch.FileCreated:
		return workspace.EventFileCreated
	case watch.FileModified:
		return workspace.EventFileModified
	case watch.FileRemoved:
		return workspace.EventFileRemoved
	case watch.ItemMoved:
		return workspace.EventItemMoved
	default:
		return workspace.EventFileModified
	}
}

// relativeToRoot strips root from an absolute path and normalizes it to
// "/"-separated form. An empty path passes through unchanged (DestPath is
// empty on every event but ItemMoved).
func relativeToRoot(root, absPath string) string {
	if absPath == "" {
		return ""
	}
	rel := strings.TrimPrefix(absPath, root)
	rel = strings.TrimPrefix(rel, string(os.PathSeparator))
	return strings.ReplaceAll(rel, string(os.PathSeparator), "/")
}
