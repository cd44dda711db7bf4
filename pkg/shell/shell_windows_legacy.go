//go:build windows

package shell

import (
	"context"
	"os/exec"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/process"
)

// legacyConsoleShell is the pre-ConPTY fallback for Windows versions that
// predate CreatePseudoConsole (Windows <10 1809): a plain cmd.exe
// subprocess whose stdin and stdout are wired through process.Stream's
// pipes, standing in for the original implementation's
// Win32ConsoleOutputPipe screen-buffer scraping at a much lower level of
// fidelity (no cursor-position polling: output is read from the stdout pipe
// instead of a console screen buffer).
//
// This type is not part of the default create-shell dispatch path; only the
// ConPTY branch in shell_windows.go is wired into the server today.
type legacyConsoleShell struct {
	stream *process.Stream
	cmd    *exec.Cmd
}

// pipeName is the Windows named pipe listenLegacyPipe listens on, mirroring
// wsterm/utils.py's Win32NamedPipe. It is not connected to the legacy shell
// subprocess's stdio.
const pipeName = `\\.\pipe\wsterm-legacy-shell`

// newLegacyConsoleShell spawns cmd.exe inside workspace without a
// pseudo-console, for hosts where CreatePseudoConsole is unavailable.
func newLegacyConsoleShell(workspace string) (Shell, error) {
	cmd := exec.Command("cmd.exe")
	cmd.Dir = workspace

	stream, err := process.NewStream(cmd, 2*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create legacy shell stream")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to start legacy shell")
	}

	return &legacyConsoleShell{stream: stream, cmd: cmd}, nil
}

// listenLegacyPipe accepts a single client connection on the legacy named
// pipe, for a client that wants to attach directly rather than through the
// websocket transport (not used by the default dispatch path; kept for
// parity with the original implementation's pipe-based attach mode).
func listenLegacyPipe(ctx context.Context) (*winio.PipeListener, error) {
	listener, err := winio.ListenPipe(pipeName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen on legacy shell pipe")
	}
	return listener.(*winio.PipeListener), nil
}

func (s *legacyConsoleShell) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *legacyConsoleShell) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *legacyConsoleShell) Close() error                { return s.stream.Close() }

// Resize is a no-op: the legacy console path has no pseudo-console to
// notify of a size change, matching Shell.resize's sys.platform == "win32"
// branch in the original implementation.
func (s *legacyConsoleShell) Resize(Size) error { return nil }

func (s *legacyConsoleShell) Wait() (int, error) {
	err := s.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
