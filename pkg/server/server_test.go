package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
	"github.com/wsterm/wsterm/pkg/transport"
)

func startTestServer(t *testing.T, config Config) (*httptest.Server, *Server) {
	t.Helper()
	if config.Path == "" {
		config.Path = "/ws"
	}
	if config.WorkspaceRoot == "" {
		config.WorkspaceRoot = t.TempDir()
	}
	srv := New(config, logging.RootLogger.Sublogger("test"))
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		httpServer.Close()
	})
	return httpServer, srv
}

func dialClient(t *testing.T, httpServer *httptest.Server, path, token string) *transport.Session {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Token "+token)
	}
	wsURL := "ws" + httpServer.URL[len("http"):] + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v (status %v)", err, resp)
	}
	client := transport.New(conn, transport.ClientInitialID, transport.HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }), logging.RootLogger.Sublogger("test"))
	go client.Run()
	return client
}

func TestLandingPageServedAtRoot(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{})
	resp, err := http.Get(httpServer.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUpgradeRejectsMismatchedToken(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{Token: "secret"})

	wsURL := "ws" + httpServer.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected a 403 response, got %v", resp)
	}
}

func TestUpgradeAcceptsMatchingToken(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{Token: "secret"})
	client := dialClient(t, httpServer, "/ws", "secret")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.SendRequest(ctx, proto.CommandSyncWorkspace, map[string]interface{}{"workspace": "test-abc12345@host"}); err != nil {
		t.Fatalf("sync-workspace failed: %v", err)
	}
}

func TestSyncWorkspaceReturnsSnapshot(t *testing.T) {
	root := t.TempDir()
	httpServer, _ := startTestServer(t, Config{WorkspaceRoot: root})
	client := dialClient(t, httpServer, "/ws", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	response, err := client.SendRequest(ctx, proto.CommandSyncWorkspace, map[string]interface{}{"workspace": "proj-deadbeef@host"})
	if err != nil {
		t.Fatalf("sync-workspace failed: %v", err)
	}
	if _, ok := response.Fields["data"]; !ok {
		t.Fatalf("expected a 'data' field carrying the remote snapshot")
	}

	if _, err := os.Stat(filepath.Join(root, "proj-deadbeef@host")); err != nil {
		t.Errorf("expected the workspace directory to have been created: %v", err)
	}
}

func TestCreateDirAndWriteFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	httpServer, _ := startTestServer(t, Config{WorkspaceRoot: root})
	client := dialClient(t, httpServer, "/ws", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.SendRequest(ctx, proto.CommandSyncWorkspace, map[string]interface{}{"workspace": "proj-cafebabe@host"}); err != nil {
		t.Fatalf("sync-workspace failed: %v", err)
	}
	if _, err := client.SendRequest(ctx, proto.CommandCreateDir, map[string]interface{}{"path": "sub"}); err != nil {
		t.Fatalf("create-dir failed: %v", err)
	}
	if _, err := client.SendRequest(ctx, proto.CommandWriteFile, map[string]interface{}{
		"path": "sub/hello.txt", "data": []byte("hi"), "overwrite": true,
	}); err != nil {
		t.Fatalf("write-file failed: %v", err)
	}

	workspaceDir := filepath.Join(root, "proj-cafebabe@host")
	data, err := os.ReadFile(filepath.Join(workspaceDir, "sub", "hello.txt"))
	if err != nil {
		t.Fatalf("expected the file to have been written: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("file content = %q, want %q", data, "hi")
	}
}

func TestUnknownCommandReturnsErrorCode(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{})
	client := dialClient(t, httpServer, "/ws", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, proto.Command("not-a-real-command"), nil)
	if err == nil {
		t.Fatalf("expected an error response for an unknown command")
	}
}

func TestCreateShellWithoutWorkspaceFails(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{})
	client := dialClient(t, httpServer, "/ws", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, proto.CommandCreateShell, map[string]interface{}{"size": []interface{}{80, 24}})
	if err == nil {
		t.Fatalf("expected create-shell to fail without a prior sync-workspace")
	}
}

func TestCreateShellReattachUnknownSessionFails(t *testing.T) {
	httpServer, _ := startTestServer(t, Config{})
	client := dialClient(t, httpServer, "/ws", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, proto.CommandCreateShell, map[string]interface{}{
		"size": []interface{}{80, 24}, "session": "00000000-0000-0000-0000-000000000000",
	})
	if err == nil {
		t.Fatalf("expected reattaching an unknown session id to fail")
	}
}
