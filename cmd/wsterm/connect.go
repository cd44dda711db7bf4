package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wsterm/wsterm/cmd"
	"github.com/wsterm/wsterm/pkg/client"
	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/platform/terminal"
	"github.com/wsterm/wsterm/pkg/syncclient"
	"github.com/wsterm/wsterm/pkg/watch"
	"github.com/wsterm/wsterm/pkg/workspace"
)

func connectMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("expected exactly one argument: the server URL")
	}
	url := arguments[0]

	logger := logging.RootLogger.Sublogger("client")
	hostname, err := os.Hostname()
	if err != nil {
		return errors.Wrap(err, "unable to determine local hostname")
	}

	statusLine := &cmd.StatusLinePrinter{UseStandardError: true}

	outputDone := make(chan struct{})
	c := client.New(client.Options{
		URL:       url,
		Token:     connectConfiguration.token,
		Reconnect: connectConfiguration.reconnect,
		OnOutput: func(buffer []byte) {
			os.Stdout.Write(buffer)
		},
		OnExit: func(code int) {
			close(outputDone)
		},
		OnStateChange: func(state client.ConnectionState) {
			if !connectConfiguration.reconnect {
				return
			}
			switch state {
			case client.StateFailed:
				statusLine.Print("connection lost, reconnecting...")
			case client.StateConnected:
				statusLine.Clear()
			}
		},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)
	go func() {
		<-signals
		cancel()
	}()

	if err := c.Connect(ctx); err != nil {
		return errors.Wrap(err, "unable to connect")
	}
	defer c.Close()

	if connectConfiguration.sync != "" {
		ws, err := workspace.New(connectConfiguration.sync, logger.Sublogger("workspace"))
		if err != nil {
			return errors.Wrap(err, "unable to open local workspace")
		}
		watcher, err := watch.New(connectConfiguration.sync)
		if err != nil {
			return errors.Wrap(err, "unable to watch local workspace")
		}
		defer watcher.Close()

		orchestrator := syncclient.New(ws, c.Session(), logger.Sublogger("sync"))
		if err := orchestrator.SyncWorkspace(ctx, hostname); err != nil {
			return errors.Wrap(err, "unable to synchronize workspace")
		}
		orchestrator.Run(ctx, watcher)
		defer orchestrator.Close()
	}

	columns, rows := 80, 24
	if size, err := terminal.QuerySize(int(os.Stdout.Fd())); err == nil {
		columns, rows = size.Columns, size.Rows
	}

	timeout := time.Duration(connectConfiguration.sessionTimeout) * time.Second
	result, err := c.CreateShell(ctx, client.Size{Columns: columns, Rows: rows}, connectConfiguration.session, timeout)
	if err != nil {
		return errors.Wrap(err, "unable to create remote shell")
	}
	if result.Session != "" {
		fmt.Fprintf(os.Stderr, "shell session: %s\n", result.Session)
	}

	go c.WatchResize(ctx, int(os.Stdout.Fd()))

	if term.IsTerminal(int(os.Stdin.Fd())) {
		go func() {
			if err := c.RunInput(ctx, int(os.Stdin.Fd()), result.LineMode); err != nil {
				cancel()
			}
		}()
	}

	select {
	case <-outputDone:
	case <-ctx.Done():
	case <-c.Closed():
	}

	return nil
}

var connectCommand = &cobra.Command{
	Use:   "connect <url>",
	Short: "Connect to a wsterm server and attach an interactive shell",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(connectMain),
}

var connectConfiguration struct {
	token          string
	sync           string
	session        string
	sessionTimeout int
	reconnect      bool
}

func init() {
	flags := connectCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&connectConfiguration.token, "token", "", "bearer token to present on the upgrade request")
	flags.StringVar(&connectConfiguration.sync, "sync", "", "local directory to synchronize to the remote workspace before attaching a shell")
	flags.StringVar(&connectConfiguration.session, "session", "", "shell session id to reattach to, instead of creating a new shell")
	flags.IntVar(&connectConfiguration.sessionTimeout, "session-timeout", 0, "seconds the remote shell stays alive after this connection closes (0 disables detachment)")
	flags.BoolVar(&connectConfiguration.reconnect, "reconnect", false, "automatically redial the server if the connection drops")
}
