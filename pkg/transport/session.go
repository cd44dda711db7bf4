// Package transport implements the duplex, request/response-correlated
// session shared by the wsterm client and server: packets are framed with
// pkg/proto over a WebSocket connection, requests issued locally are
// matched against responses by id, and inbound requests are routed to a
// Handler.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/proto"
)

// ClientInitialID and ServerInitialID are the starting values for each
// side's request id counter. Client and server allocate from disjoint
// ranges so that, even though each maintains its own sequence, ids observed
// on the wire make it obvious which side originated a given request.
const (
	ClientInitialID uint64 = 0
	ServerInitialID uint64 = 0x10000
)

// Handler processes an inbound request packet and produces the response to
// send back. It must not block for long: operations that take real time
// (the shell forwarding loop, a chunked file transfer) start their own
// goroutine and return a response immediately once the operation has been
// kicked off.
type Handler interface {
	HandleRequest(*proto.Packet) *proto.Packet
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(*proto.Packet) *proto.Packet

// HandleRequest implements Handler.
func (f HandlerFunc) HandleRequest(p *proto.Packet) *proto.Packet { return f(p) }

// Session wraps a single WebSocket connection with packet framing, request
// id allocation, and response correlation. It is safe for concurrent use:
// SendRequest may be called from multiple goroutines while Run drains
// inbound packets on another.
type Session struct {
	conn   *websocket.Conn
	nextID uint64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *proto.Packet

	handler Handler
	logger  *logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn in a Session. initialID is the first id this side will
// allocate for outbound requests (ClientInitialID or ServerInitialID).
func New(conn *websocket.Conn, initialID uint64, handler Handler, logger *logging.Logger) *Session {
	return &Session{
		conn:    conn,
		nextID:  initialID,
		pending: make(map[uint64]chan *proto.Packet),
		handler: handler,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// SendRequest allocates the next request id, sends a request packet, and
// blocks until either a matching response arrives, ctx is canceled, or the
// session closes.
func (s *Session) SendRequest(ctx context.Context, command proto.Command, fields map[string]interface{}) (*proto.Packet, error) {
	id := atomic.AddUint64(&s.nextID, 1) - 1
	request := proto.NewRequest(id, command, fields)

	response := make(chan *proto.Packet, 1)
	s.pendingMu.Lock()
	s.pending[id] = response
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writePacket(request); err != nil {
		return nil, err
	}

	select {
	case packet := <-response:
		if packet.Code() != 0 {
			return packet, fmt.Errorf("%s failed: %s", command, packet.Message())
		}
		return packet, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, errors.New("transport session closed")
	}
}

// SendEvent sends a one-way request that expects no response, used for the
// server-to-client WRITE_STDOUT/EXIT_SHELL notifications. The id is still
// allocated from this side's sequence so the wire stays self-consistent,
// but no entry is added to the pending-response table.
func (s *Session) SendEvent(command proto.Command, fields map[string]interface{}) error {
	id := atomic.AddUint64(&s.nextID, 1) - 1
	return s.writePacket(proto.NewRequest(id, command, fields))
}

func (s *Session) writePacket(p *proto.Packet) error {
	frame, err := proto.Serialize(p)
	if err != nil {
		return errors.Wrap(err, "unable to serialize packet")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Run reads inbound WebSocket messages until the connection closes,
// decoding each as one or more packets (framing is per-message since the
// WebSocket transport already delimits messages, but the length-prefixed
// codec is applied uniformly in case a peer coalesces frames) and routing
// requests to the handler, responses to their waiting SendRequest call.
// Run blocks and returns the terminal connection error.
func (s *Session) Run() error {
	defer s.close()

	var decoder proto.Decoder
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		decoder.Feed(data)
		packets, err := decoder.Drain()
		if err != nil {
			s.logger.Warn(errors.Wrap(err, "discarding undecodable packet"))
			continue
		}

		for _, packet := range packets {
			s.route(packet)
		}
	}
}

func (s *Session) route(packet *proto.Packet) {
	if packet.Type() == proto.PacketTypeResponse {
		s.pendingMu.Lock()
		ch, ok := s.pending[packet.ID()]
		s.pendingMu.Unlock()
		if ok {
			ch <- packet
		}
		return
	}

	response := s.handler.HandleRequest(packet)
	if response == nil {
		return
	}
	if err := s.writePacket(response); err != nil {
		s.logger.Warn(errors.Wrap(err, "unable to send response"))
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Close closes the underlying connection, which unblocks Run and any
// pending SendRequest calls.
func (s *Session) Close() error {
	s.close()
	return s.conn.Close()
}
