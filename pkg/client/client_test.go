package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/server"
)

func startTestServer(t *testing.T, token string) (*httptest.Server, *server.Server) {
	t.Helper()
	srv := server.New(server.Config{
		WorkspaceRoot: t.TempDir(),
		Path:          "/ws",
		Token:         token,
	}, logging.RootLogger.Sublogger("test"))
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		httpServer.Close()
	})
	return httpServer, srv
}

func wsURL(httpServer *httptest.Server) string {
	return "ws" + httpServer.URL[len("http"):] + "/ws"
}

func TestClientConnectReachesStateConnected(t *testing.T) {
	httpServer, _ := startTestServer(t, "")

	c := New(Options{URL: wsURL(httpServer)}, logging.RootLogger.Sublogger("test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if c.State() != StateConnected {
		t.Errorf("state = %v, want StateConnected", c.State())
	}
}

func TestClientConnectFailsWithWrongToken(t *testing.T) {
	httpServer, _ := startTestServer(t, "secret")

	c := New(Options{URL: wsURL(httpServer), Token: "wrong"}, logging.RootLogger.Sublogger("test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatalf("expected Connect to fail with a mismatched token")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v, want StateFailed", c.State())
	}
}

func TestClientSyncWorkspaceRoundTrip(t *testing.T) {
	httpServer, _ := startTestServer(t, "")

	c := New(Options{URL: wsURL(httpServer)}, logging.RootLogger.Sublogger("test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	response, err := c.SyncWorkspace(ctx, "proj-12345678@host")
	if err != nil {
		t.Fatalf("SyncWorkspace failed: %v", err)
	}
	if _, ok := response.Fields["data"]; !ok {
		t.Fatalf("expected a 'data' field in the sync-workspace response")
	}
}

func TestClientCreateShellAndEcho(t *testing.T) {
	httpServer, _ := startTestServer(t, "")

	var mu sync.Mutex
	var output strings.Builder
	done := make(chan struct{})

	c := New(Options{
		URL: wsURL(httpServer),
		OnOutput: func(b []byte) {
			mu.Lock()
			output.Write(b)
			mu.Unlock()
			if strings.Contains(output.String(), "hello-from-test") {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		},
	}, logging.RootLogger.Sublogger("test"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if _, err := c.SyncWorkspace(ctx, "proj-abcdef12@host"); err != nil {
		t.Fatalf("SyncWorkspace failed: %v", err)
	}

	result, err := c.CreateShell(ctx, Size{Columns: 80, Rows: 24}, "", 0)
	if err != nil {
		t.Fatalf("CreateShell failed: %v", err)
	}
	if result.Platform == "" {
		t.Errorf("expected a non-empty platform in CreateShell result")
	}

	if err := c.WriteStdin(ctx, []byte("echo hello-from-test\n")); err != nil {
		t.Fatalf("WriteStdin failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(8 * time.Second):
		mu.Lock()
		got := output.String()
		mu.Unlock()
		t.Fatalf("timed out waiting for echoed output; got so far: %q", got)
	}
}
