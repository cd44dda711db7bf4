// Package must provides small wrappers around operations that can fail but
// whose failure, at the call site, can only sensibly be logged rather than
// propagated (typically best-effort cleanup during shutdown or error
// handling). Each wrapper takes the logger to report to explicitly rather
// than relying on a package-level global.
package must

import (
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/wsterm/wsterm/pkg/logging"
)

// Close closes a closer, logging any failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("Unable to close: %s", err.Error())
	}
}

// Serve runs a server's Serve method, logging any failure.
func Serve(ws interface{ Serve(net.Listener) error }, nl net.Listener, logger *logging.Logger) {
	if err := ws.Serve(nl); err != nil {
		logger.Warnf("Unable to serve '%s': %s", nl.Addr(), err.Error())
	}
}

// Signal sends a signal, logging any failure.
func Signal(s interface{ Signal(os.Signal) error }, sig os.Signal, logger *logging.Logger) {
	if err := s.Signal(sig); err != nil {
		logger.Warnf("Unable to signal '%s': %s", sig, err.Error())
	}
}

// Kill kills a process, logging any failure.
func Kill(s interface{ Kill() error }, logger *logging.Logger) {
	if err := s.Kill(); err != nil {
		logger.Warnf("Unable to kill: %s", err.Error())
	}
}

// IOCopy copies from src to dst, logging any failure.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("Unable to copy from source to destination: %s", err.Error())
	}
}

// CommandHelp prints a Cobra command's help text, logging any failure.
func CommandHelp(c *cobra.Command, logger *logging.Logger) {
	if err := c.Help(); err != nil {
		logger.Warnf("Unable to print help: %s", err.Error())
	}
}

// OSRemove removes a file by name, logging any failure.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("Unable to remove '%s': %s", name, err.Error())
	}
}

// Succeed logs err, if non-nil, as a failure to complete the named task.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("Unable to succeed at %s: %s", task, err.Error())
	}
}
