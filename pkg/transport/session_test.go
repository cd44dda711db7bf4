package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
)

// newSessionPair spins up a WebSocket echo-ish server and connects a client
// to it, wrapping both ends in a Session with the given handlers. It returns
// both sessions with Run already started in the background, and a cleanup
// function.
func newSessionPair(t *testing.T, serverHandler, clientHandler Handler) (*Session, *Session, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverReady := make(chan *websocket.Conn, 1)

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade failed: %v", err)
			return
		}
		serverReady <- conn
	}))

	wsURL := "ws" + httpServer.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}

	serverConn := <-serverReady

	logger := logging.RootLogger.Sublogger("test")
	serverSession := New(serverConn, ServerInitialID, serverHandler, logger)
	clientSession := New(clientConn, ClientInitialID, clientHandler, logger)

	go serverSession.Run()
	go clientSession.Run()

	cleanup := func() {
		clientSession.Close()
		serverSession.Close()
		httpServer.Close()
	}

	return clientSession, serverSession, cleanup
}

func TestSendRequestReceivesMatchingResponse(t *testing.T) {
	echoHandler := HandlerFunc(func(p *proto.Packet) *proto.Packet {
		name, _ := p.String("name")
		return proto.NewResponse(p, 0, "", map[string]interface{}{"echo": name})
	})

	client, _, cleanup := newSessionPair(t, echoHandler, HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	response, err := client.SendRequest(ctx, proto.CommandCreateDir, map[string]interface{}{"name": "sub"})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if echoed, _ := response.String("echo"); echoed != "sub" {
		t.Errorf("response echo = %q, want %q", echoed, "sub")
	}
}

func TestSendRequestSurfacesErrorCode(t *testing.T) {
	failHandler := HandlerFunc(func(p *proto.Packet) *proto.Packet {
		return proto.NewResponse(p, -1, "boom", nil)
	})

	client, _, cleanup := newSessionPair(t, failHandler, HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, proto.CommandRemoveDir, nil)
	if err == nil {
		t.Fatalf("expected an error for a response carrying a nonzero code")
	}
}

func TestSendRequestIDsAreMonotonicPerDirection(t *testing.T) {
	var seenIDs []uint64
	echoHandler := HandlerFunc(func(p *proto.Packet) *proto.Packet {
		seenIDs = append(seenIDs, p.ID())
		return proto.NewResponse(p, 0, "", nil)
	})

	client, _, cleanup := newSessionPair(t, echoHandler, HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := client.SendRequest(ctx, proto.CommandCreateDir, nil); err != nil {
			t.Fatalf("SendRequest %d failed: %v", i, err)
		}
	}

	if len(seenIDs) != 3 {
		t.Fatalf("expected 3 requests observed server-side, got %d", len(seenIDs))
	}
	for i, id := range seenIDs {
		if id != ClientInitialID+uint64(i) {
			t.Errorf("request %d had id %d, want %d", i, id, ClientInitialID+uint64(i))
		}
	}
}

func TestSendRequestContextCancellation(t *testing.T) {
	// A handler that never responds: the server side returns nil, so no
	// RESPONSE packet is ever sent back, forcing SendRequest to rely on ctx.
	silentHandler := HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil })

	client, _, cleanup := newSessionPair(t, silentHandler, HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.SendRequest(ctx, proto.CommandSyncWorkspace, nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestServerCanSendEventToClient(t *testing.T) {
	received := make(chan *proto.Packet, 1)
	clientHandler := HandlerFunc(func(p *proto.Packet) *proto.Packet {
		received <- p
		return nil
	})

	_, server, cleanup := newSessionPair(t, HandlerFunc(func(p *proto.Packet) *proto.Packet { return nil }), clientHandler)
	defer cleanup()

	if err := server.SendEvent(proto.CommandWriteStdout, map[string]interface{}{"data": []byte("hi")}); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}

	select {
	case p := <-received:
		data, _ := p.Bytes("data")
		if string(data) != "hi" {
			t.Errorf("data = %q, want %q", data, "hi")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client to receive event")
	}
}
