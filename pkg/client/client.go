// Package client implements the wsterm client: the WebSocket dial and
// wait-for-connect handshake, the request surface for shell and workspace
// commands, and the inbound handling of the server's WRITE_STDOUT/
// EXIT_SHELL events.
package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
	"github.com/wsterm/wsterm/pkg/timeutil"
	"github.com/wsterm/wsterm/pkg/transport"
)

// ConnectionState mirrors the three-state connection indicator spec.md §4.5
// describes (None|True|False): Unknown before the upgrade response arrives,
// Connected once it returns HTTP 101, Failed otherwise.
type ConnectionState int32

const (
	StateUnknown ConnectionState = iota
	StateConnected
	StateFailed
)

// defaultConnectTimeout is wait_for_connecting's default bound (spec.md §5).
const defaultConnectTimeout = 15 * time.Second

// reconnectRetryInterval is the flat backoff between redial attempts once a
// Reconnect-enabled client's connection drops.
const reconnectRetryInterval = time.Second

// Size is a terminal dimension pair, ordered [columns, rows] as on the wire.
type Size struct {
	Columns int
	Rows    int
}

// Options configures a Client.
type Options struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration // zero means defaultConnectTimeout
	Reconnect      bool

	// OnOutput and OnExit receive the server's WRITE_STDOUT and EXIT_SHELL
	// events, respectively. Both may be nil.
	OnOutput func([]byte)
	OnExit   func(code int)

	// OnStateChange, if non-nil, is invoked with the client's new
	// ConnectionState every time it transitions, including the transient
	// StateFailed entered between a dropped connection and a successful
	// reconnect.
	OnStateChange func(ConnectionState)
}

// Client is a single logical connection to a wsterm server: it owns the
// transport.Session and, when Reconnect is enabled, transparently rebuilds
// it after an unexpected close.
type Client struct {
	options Options
	logger  *logging.Logger

	state int32 // ConnectionState, accessed atomically

	mu          sync.Mutex
	session     *transport.Session
	lastSession string // last known detachable shell session id, for reattach

	closed chan struct{}
}

// New creates a Client. Call Connect to perform the initial dial.
func New(options Options, logger *logging.Logger) *Client {
	if options.ConnectTimeout == 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}
	return &Client{
		options: options,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// State returns the client's current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(state ConnectionState) {
	atomic.StoreInt32(&c.state, int32(state))
	if c.options.OnStateChange != nil {
		c.options.OnStateChange(state)
	}
}

// Closed returns a channel that's closed once the client gives up on the
// connection for good (a non-reconnecting client after its session closes,
// or a reconnecting one once the context passed to Connect is done; Close
// alone makes a reconnecting client redial).
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Connect performs the WebSocket upgrade and, on success, starts the
// session's inbound dispatch loop in the background. If Reconnect is
// enabled, a closed session is transparently redialed; otherwise Connect
// returning nil means the caller owns a single usable session until it
// closes (observable via Closed).
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		c.setState(StateFailed)
		return err
	}
	c.setState(StateConnected)
	go c.runSession(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if c.options.Token != "" {
		header.Set("Authorization", "Token "+c.options.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.options.URL, header)
	if err != nil {
		status := "unknown"
		if resp != nil {
			status = resp.Status
		}
		return errors.Wrapf(err, "unable to connect to %s (status %s)", c.options.URL, status)
	}

	session := transport.New(conn, transport.ClientInitialID, c, c.logger)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// runSession blocks on the session's dispatch loop and, when it ends,
// either closes the client for good or redials and reattaches, per
// spec.md §7's "Transport closed mid-session" error category.
func (c *Client) runSession(ctx context.Context) {
	for {
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()

		err := session.Run()
		c.setState(StateFailed)

		if !c.options.Reconnect || ctx.Err() != nil {
			close(c.closed)
			return
		}

		c.logger.Warnf("connection closed (%v); reconnecting", err)
		if dialErr := c.dial(ctx); dialErr != nil {
			c.logger.Error(dialErr)
			retryTimer := time.NewTimer(reconnectRetryInterval)
			select {
			case <-retryTimer.C:
			case <-ctx.Done():
				timeutil.StopAndDrainTimer(retryTimer)
				close(c.closed)
				return
			}
			continue
		}
		c.setState(StateConnected)

		c.mu.Lock()
		lastSession := c.lastSession
		c.mu.Unlock()
		if lastSession != "" {
			// The new session's dispatch loop starts at the top of the next
			// iteration, so the reattach request is sent from a goroutine.
			go func() {
				if _, err := c.currentSession().SendRequest(ctx, proto.CommandCreateShell, map[string]interface{}{"session": lastSession}); err != nil {
					c.logger.Warnf("unable to reattach shell session %s: %v", lastSession, err)
				}
			}()
		}
	}
}

// HandleRequest implements transport.Handler for the server-to-client
// events: WRITE_STDOUT (and WRITE_STDERR, handled the same way) and
// EXIT_SHELL. None of them expects a response.
func (c *Client) HandleRequest(p *proto.Packet) *proto.Packet {
	switch p.Command() {
	case proto.CommandWriteStdout, proto.CommandWriteStderr:
		if buffer, ok := p.Bytes("buffer"); ok && c.options.OnOutput != nil {
			c.options.OnOutput(buffer)
		}
	case proto.CommandExitShell:
		code, _ := p.Int("code")
		if c.options.OnExit != nil {
			c.options.OnExit(code)
		}
	default:
		c.logger.Warnf("ignoring unexpected server-initiated command '%s'", p.Command())
	}
	return nil
}

func (c *Client) currentSession() *transport.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CreateShellResult is the decoded response to a create-shell request.
type CreateShellResult struct {
	Platform string
	Session  string
	LineMode bool
}

// CreateShell spawns (or reattaches, if sessionID is non-empty) a remote
// shell at the given size. timeout of zero means the shell is not
// detachable: it's terminated outright when this connection closes.
func (c *Client) CreateShell(ctx context.Context, size Size, sessionID string, timeout time.Duration) (CreateShellResult, error) {
	fields := map[string]interface{}{
		"size": []interface{}{size.Columns, size.Rows},
	}
	if sessionID != "" {
		fields["session"] = sessionID
	}
	if timeout > 0 {
		fields["timeout"] = int(timeout.Seconds())
	}

	response, err := c.currentSession().SendRequest(ctx, proto.CommandCreateShell, fields)
	if err != nil {
		return CreateShellResult{}, err
	}

	result := CreateShellResult{}
	result.Platform, _ = response.String("platform")
	result.Session, _ = response.String("session")
	result.LineMode, _ = response.Bool("line_mode")

	c.mu.Lock()
	c.lastSession = result.Session
	c.mu.Unlock()

	return result, nil
}

// WriteStdin forwards a chunk of keyboard input to the attached shell.
func (c *Client) WriteStdin(ctx context.Context, data []byte) error {
	_, err := c.currentSession().SendRequest(ctx, proto.CommandWriteStdin, map[string]interface{}{"buffer": data})
	return err
}

// ResizeShell notifies the attached shell of a terminal size change.
func (c *Client) ResizeShell(ctx context.Context, size Size) error {
	_, err := c.currentSession().SendRequest(ctx, proto.CommandResizeShell, map[string]interface{}{
		"size": []interface{}{size.Columns, size.Rows},
	})
	return err
}

// SyncWorkspace issues the sync-workspace request and returns the raw
// response packet; pkg/syncclient.Orchestrator.SyncWorkspace is the
// higher-level entry point that also applies the resulting diff.
func (c *Client) SyncWorkspace(ctx context.Context, identity string) (*proto.Packet, error) {
	return c.currentSession().SendRequest(ctx, proto.CommandSyncWorkspace, map[string]interface{}{"workspace": identity})
}

// Session exposes the underlying transport session, e.g. for
// pkg/syncclient.New, which needs a requestSender.
func (c *Client) Session() *transport.Session {
	return c.currentSession()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	session := c.currentSession()
	if session == nil {
		return nil
	}
	return session.Close()
}
