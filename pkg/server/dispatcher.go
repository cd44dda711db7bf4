package server

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
	"github.com/wsterm/wsterm/pkg/shell"
	"github.com/wsterm/wsterm/pkg/transport"
	"github.com/wsterm/wsterm/pkg/workspace"
)

// DefaultWorkspaceRoot resolves $WSTERM_WORKSPACE, falling back to the
// platform's temp directory, matching spec.md §6's documented environment
// variable.
func DefaultWorkspaceRoot() string {
	if root := os.Getenv("WSTERM_WORKSPACE"); root != "" {
		return root
	}
	return os.TempDir()
}

// attachedShell is the shell a connection currently owns: either a
// detachable Session registered in the shared registry, or a bare Shell
// that belongs to this connection alone.
type attachedShell struct {
	sh      shell.Shell
	session *shell.Session // nil if this shell was created without a timeout
}

// dispatcher implements transport.Handler for a single WebSocket connection:
// it owns that connection's workspace (bound by the first sync-workspace
// request) and at most one shell at a time.
type dispatcher struct {
	server *Server
	logger *logging.Logger

	session *transport.Session

	mu        sync.Mutex
	workspace *workspace.Workspace
	attached  *attachedShell
}

func newDispatcher(s *Server, logger *logging.Logger) *dispatcher {
	return &dispatcher{server: s, logger: logger}
}

// bind wraps conn in a transport.Session routed to this dispatcher. It must
// be called exactly once, before Run.
func (d *dispatcher) bind(conn *websocket.Conn) *transport.Session {
	d.session = transport.New(conn, transport.ServerInitialID, d, d.logger)
	return d.session
}

// connectionClosed runs the cleanup spec.md §4.6 describes for a transport
// that closes with a live shell: a shell with a live registry session is
// merely detached (starting its idle-TTL clock) and has its sink cleared so
// the session's still-running Forward goroutine stops delivering to this
// now-dead connection; a non-detachable shell is asked to exit.
func (d *dispatcher) connectionClosed() {
	d.mu.Lock()
	attached := d.attached
	d.attached = nil
	d.mu.Unlock()

	if attached == nil {
		return
	}
	if attached.session != nil {
		attached.session.ClearSink()
		d.server.registry.Detach(attached.session.ID)
		return
	}
	attached.sh.Write([]byte("exit\n"))
}

// HandleRequest implements transport.Handler.
func (d *dispatcher) HandleRequest(p *proto.Packet) *proto.Packet {
	switch p.Command() {
	case proto.CommandSyncWorkspace:
		return d.handleSyncWorkspace(p)
	case proto.CommandCreateDir:
		return d.handleCreateDir(p)
	case proto.CommandRemoveDir:
		return d.handleRemoveDir(p)
	case proto.CommandWriteFile:
		return d.handleWriteFile(p)
	case proto.CommandRemoveFile:
		return d.handleRemoveFile(p)
	case proto.CommandMoveItem:
		return d.handleMoveItem(p)
	case proto.CommandSetPerm:
		return d.handleSetPerm(p)
	case proto.CommandCreateShell:
		return d.handleCreateShell(p)
	case proto.CommandWriteStdin:
		return d.handleWriteStdin(p)
	case proto.CommandResizeShell:
		return d.handleResizeShell(p)
	case proto.CommandListDir:
		// Reserved by spec.md §6; no server behavior is defined for it.
		return proto.NewResponse(p, 0, "", nil)
	default:
		message := fmt.Sprintf("unknown command '%s'", p.Command())
		d.logger.Warnf("%s", message)
		return proto.NewResponse(p, -1, message, nil)
	}
}

func (d *dispatcher) handleSyncWorkspace(p *proto.Packet) *proto.Packet {
	identity, _ := p.String("workspace")
	if identity == "" {
		return proto.NewResponse(p, -1, "sync-workspace requires a 'workspace' field", nil)
	}

	root := filepath.Join(d.server.config.WorkspaceRoot, identity)
	ws, err := workspace.New(root, d.logger.Sublogger("workspace"))
	if err != nil {
		d.logger.Error(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}

	snapshot, err := ws.Snapshot()
	if err != nil {
		d.logger.Error(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}

	d.mu.Lock()
	d.workspace = ws
	d.mu.Unlock()

	return proto.NewResponse(p, 0, "", map[string]interface{}{"data": snapshot})
}

func (d *dispatcher) currentWorkspace() (*workspace.Workspace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workspace == nil {
		return nil, errors.New("no workspace bound to this connection; send sync-workspace first")
	}
	return d.workspace, nil
}

func (d *dispatcher) handleCreateDir(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	path, _ := p.String("path")
	if err := ws.CreateDirectory(path); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleRemoveDir(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	path, _ := p.String("path")
	if err := ws.RemoveDirectory(path); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleWriteFile(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	path, _ := p.String("path")
	data, _ := p.Bytes("data")
	overwrite, _ := p.Bool("overwrite")
	if err := ws.WriteFile(path, data, overwrite); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleRemoveFile(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	path, _ := p.String("path")
	if err := ws.RemoveFile(path); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleMoveItem(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	src, _ := p.String("src_path")
	dst, _ := p.String("dst_path")
	if err := ws.MoveItem(src, dst); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleSetPerm(p *proto.Packet) *proto.Packet {
	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	path, _ := p.String("path")
	perm, _ := p.Int("perm")
	if err := ws.SetPerm(path, os.FileMode(perm&0o777)); err != nil {
		d.logger.Warn(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleCreateShell(p *proto.Packet) *proto.Packet {
	cols, rows, _ := p.Size("size")
	if sessionID, ok := p.String("session"); ok && sessionID != "" {
		session, found := d.server.registry.Attach(sessionID)
		if !found {
			return proto.NewResponse(p, -1, fmt.Sprintf("Shell session %s not found", sessionID), nil)
		}
		d.mu.Lock()
		d.attached = &attachedShell{sh: session.Shell, session: session}
		d.mu.Unlock()

		onOutput, onExit := d.shellSink(session.Shell)
		session.SetSink(onOutput, onExit)
		return proto.NewResponse(p, 0, "", map[string]interface{}{
			"platform": platformName(),
			"session":  session.ID,
		})
	}

	ws, err := d.currentWorkspace()
	if err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}

	sh, err := shell.New(ws.Root(), shell.Size{Columns: cols, Rows: rows}, d.logger)
	if err != nil {
		d.logger.Error(err)
		return proto.NewResponse(p, -1, err.Error(), nil)
	}

	fields := map[string]interface{}{"platform": platformName()}

	if timeoutSeconds, ok := p.Int("timeout"); ok && timeoutSeconds > 0 {
		session := d.server.registry.Create(sh, time.Duration(timeoutSeconds)*time.Second)
		d.mu.Lock()
		d.attached = &attachedShell{sh: sh, session: session}
		d.mu.Unlock()
		fields["session"] = session.ID
		onOutput, onExit := d.shellSink(sh)
		session.SetSink(onOutput, onExit)
	} else {
		d.mu.Lock()
		d.attached = &attachedShell{sh: sh}
		d.mu.Unlock()
		d.startForwarding(sh)
	}

	return proto.NewResponse(p, 0, "", fields)
}

// shellSink returns the output/exit callbacks that deliver sh's forwarded
// output over this connection's transport, clearing d.attached once sh is
// gone. For a detachable shell these are handed to Session.SetSink rather
// than to a freshly started Forward call, so reattach never races a second
// reader against the session's one long-running Forward goroutine.
func (d *dispatcher) shellSink(sh shell.Shell) (onOutput func([]byte), onExit func(int)) {
	onOutput = func(chunk []byte) {
		if err := d.session.SendEvent(proto.CommandWriteStdout, map[string]interface{}{"buffer": chunk}); err != nil {
			d.logger.Warn(err)
		}
	}
	onExit = func(code int) {
		if err := d.session.SendEvent(proto.CommandExitShell, map[string]interface{}{"code": code}); err != nil {
			d.logger.Warn(err)
		}
		d.mu.Lock()
		if d.attached != nil && d.attached.sh == sh {
			d.attached = nil
		}
		d.mu.Unlock()
	}
	return
}

// startForwarding launches a non-detachable shell's output forwarding loop
// directly. There is no registry session and therefore no reattach
// scenario, so a single Forward call lives exactly as long as the
// connection that owns it.
func (d *dispatcher) startForwarding(sh shell.Shell) {
	onOutput, onExit := d.shellSink(sh)
	go shell.Forward(sh, onOutput, onExit)
}

func (d *dispatcher) handleWriteStdin(p *proto.Packet) *proto.Packet {
	d.mu.Lock()
	attached := d.attached
	d.mu.Unlock()
	if attached == nil {
		return proto.NewResponse(p, -1, "no shell attached to this connection", nil)
	}
	buffer, _ := p.Bytes("buffer")
	if _, err := attached.sh.Write(buffer); err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func (d *dispatcher) handleResizeShell(p *proto.Packet) *proto.Packet {
	d.mu.Lock()
	attached := d.attached
	d.mu.Unlock()
	if attached == nil {
		return proto.NewResponse(p, -1, "no shell attached to this connection", nil)
	}
	cols, rows, _ := p.Size("size")
	if err := attached.sh.Resize(shell.Size{Columns: cols, Rows: rows}); err != nil {
		return proto.NewResponse(p, -1, err.Error(), nil)
	}
	return proto.NewResponse(p, 0, "", nil)
}

func platformName() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "posix"
}
