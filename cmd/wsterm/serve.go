package main

import (
	"net/http"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wsterm/wsterm/cmd"
	"github.com/wsterm/wsterm/cmd/profile"
	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/server"
)

func serveMain(command *cobra.Command, arguments []string) error {
	if serveConfiguration.profile {
		p, err := profile.New("wsterm-serve")
		if err != nil {
			return errors.Wrap(err, "unable to start profiling")
		}
		defer p.Finalize()
	}

	workspaceRoot := serveConfiguration.workspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = server.DefaultWorkspaceRoot()
	}

	logger := logging.RootLogger.Sublogger("server")
	srv := server.New(server.Config{
		WorkspaceRoot: workspaceRoot,
		Path:          serveConfiguration.path,
		Token:         serveConfiguration.token,
	}, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    serveConfiguration.listen,
		Handler: srv.Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)

	logger.Infof("listening on %s%s", serveConfiguration.listen, serveConfiguration.path)

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "server failed")
		}
	case <-signals:
		logger.Info("received termination signal, shutting down")
		return httpServer.Close()
	}

	return nil
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the wsterm server",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(serveMain),
}

var serveConfiguration struct {
	listen        string
	path          string
	token         string
	workspaceRoot string
	profile       bool
}

func init() {
	flags := serveCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&serveConfiguration.listen, "listen", ":9090", "address to listen on")
	flags.StringVar(&serveConfiguration.path, "path", "/ws", "HTTP path the WebSocket endpoint is served at")
	flags.StringVar(&serveConfiguration.token, "token", "", "bearer token required on the upgrade request's Authorization header (unset disables authentication)")
	flags.StringVar(&serveConfiguration.workspaceRoot, "workspace-root", "", "root directory under which per-client workspaces are created (defaults to $WSTERM_WORKSPACE or the system temp directory)")
	flags.BoolVar(&serveConfiguration.profile, "profile", false, "write CPU and heap profiles on exit")
	flags.MarkHidden("profile")
}
