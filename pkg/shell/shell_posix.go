//go:build !windows

package shell

import (
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/must"
	"github.com/wsterm/wsterm/pkg/process"
)

// posixShell wraps a pty-backed child process. The workspace directory is
// the child's working directory, matching the Python original's
// os.chdir(workspace) in the forked child.
type posixShell struct {
	cmd    *exec.Cmd
	master *os.File
	logger *logging.Logger
}

// New spawns the shell named by $SHELL (falling back to /bin/sh) inside
// workspace, attached to a new pseudo-terminal of the given initial size.
func New(workspace string, size Size, logger *logging.Logger) (Shell, error) {
	name, args := resolveShellCommand()

	cmd := exec.Command(name, args...)
	cmd.Dir = workspace
	cmd.Env = os.Environ()

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Columns),
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to start shell")
	}

	return &posixShell{cmd: cmd, master: master, logger: logger}, nil
}

// resolveShellCommand splits $SHELL by shell-word rules (a plain
// whitespace split suffices for the common case of a bare path, which is
// all $SHELL ever realistically contains) and resolves the executable
// against $PATH if it isn't already absolute, falling back to /bin/sh.
func resolveShellCommand() (string, []string) {
	fields := strings.Fields(os.Getenv("SHELL"))
	if len(fields) == 0 {
		return "/bin/sh", nil
	}

	exe := fields[0]
	if !strings.HasPrefix(exe, "/") {
		if resolved, err := process.FindCommand(exe, strings.Split(os.Getenv("PATH"), string(os.PathListSeparator))); err == nil {
			exe = resolved
		}
	}
	return exe, fields[1:]
}

func (s *posixShell) Read(p []byte) (int, error)  { return s.master.Read(p) }
func (s *posixShell) Write(p []byte) (int, error) { return s.master.Write(p) }

func (s *posixShell) Close() error {
	must.Close(s.master, s.logger)
	return s.cmd.Process.Signal(syscall.SIGTERM)
}

func (s *posixShell) Resize(size Size) error {
	return pty.Setsize(s.master, &pty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Columns),
	})
}

func (s *posixShell) Wait() (int, error) {
	err := s.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
