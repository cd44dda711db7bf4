package syncclient

import (
	"context"
	"time"

	"github.com/wsterm/wsterm/pkg/contextutil"
	"github.com/wsterm/wsterm/pkg/proto"
	"github.com/wsterm/wsterm/pkg/workspace"
)

// HandleWorkspaceEvent implements workspace.Handler. It is called
// synchronously from the workspace's dispatch fan-out, so every branch here
// either does a bounded amount of local bookkeeping or hands the real work
// off to a goroutine; it never blocks on the network.
func (o *Orchestrator) HandleWorkspaceEvent(e workspace.Event) {
	switch e.Kind {
	case workspace.EventDirectoryCreated:
		go o.sendFireAndForget(proto.CommandCreateDir, map[string]interface{}{"path": e.Path})
	case workspace.EventDirectoryRemoved:
		go o.sendFireAndForget(proto.CommandRemoveDir, map[string]interface{}{"path": e.Path})
	case workspace.EventFileCreated, workspace.EventFileModified:
		o.scheduleWrite(e.Path)
	case workspace.EventFileRemoved:
		o.cancelPendingWrite(e.Path)
		go o.sendFireAndForget(proto.CommandRemoveFile, map[string]interface{}{"path": e.Path})
	case workspace.EventItemMoved:
		o.cancelPendingWrite(e.Path)
		go o.sendFireAndForget(proto.CommandMoveItem, map[string]interface{}{
			"src_path": e.Path,
			"dst_path": e.DestPath,
		})
	}
}

// scheduleWrite enqueues a delayed write for path with a writeCoalesceDelay
// deadline, unless one is already pending: per spec.md §4.3, "subsequent
// modifies to the same path reset nothing (the first scheduled deadline
// stands)".
func (o *Orchestrator) scheduleWrite(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, pending := o.pendingWrites[path]; !pending {
		o.pendingWrites[path] = time.Now().Add(writeCoalesceDelay)
	}
}

// cancelPendingWrite removes any scheduled write for path, resolving the
// modify-then-remove race: a FILE_REMOVED arriving before the coalesce
// deadline cancels the write outright instead of racing a WRITE_FILE against
// a REMOVE_FILE on the wire.
func (o *Orchestrator) cancelPendingWrite(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pendingWrites, path)
}

// runPump inspects the pending-write map on every tick and flushes any path
// whose deadline has passed, matching spec.md §4.3's "cooperative pump"
// description (expressed here as a goroutine on a ticker rather than a
// polling loop, since Go has no single-threaded event loop to cooperate
// with).
func (o *Orchestrator) runPump(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, path := range o.dueWrites() {
				if err := o.sendFile(ctx, path); err != nil {
					o.logger.Warnf("unable to send delayed write for '%s': %v", path, err)
				}
			}
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		}
	}
}

// dueWrites atomically pops every path whose deadline has passed out of the
// pending-write map and returns them.
func (o *Orchestrator) dueWrites() []string {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	var due []string
	for path, deadline := range o.pendingWrites {
		if !now.Before(deadline) {
			due = append(due, path)
			delete(o.pendingWrites, path)
		}
	}
	return due
}

// sendFireAndForget issues a request and logs failures as warnings: live
// events are forwarded best-effort, matching the fan-out dispatch's
// non-blocking contract (spec.md §4.2's "ordered, non-blocking dispatches").
// It does nothing if Run's context is already done, since that means a
// shutdown is underway and the session may no longer accept requests.
func (o *Orchestrator) sendFireAndForget(command proto.Command, fields map[string]interface{}) {
	if contextutil.IsCancelled(o.runCtx) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := o.session.SendRequest(ctx, command, fields); err != nil {
		o.logger.Warnf("unable to forward %s: %v", command, err)
	}
}
