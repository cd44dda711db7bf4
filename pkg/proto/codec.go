package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// headerSize is the length, in bytes, of the frame's length prefix.
const headerSize = 4

// Serialize encodes a packet as a length-prefixed MessagePack frame:
// uint32_be(len(payload)) || payload.
func Serialize(p *Packet) ([]byte, error) {
	payload, err := msgpack.Marshal(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("unable to encode packet payload: %w", err)
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// Deserialize attempts to decode a single packet from the front of buffer. If
// buffer does not yet contain a complete frame, it returns (nil, buffer, nil)
// unchanged so the caller can append more bytes and retry. On success it
// returns the decoded packet and the residual buffer with the consumed frame
// removed.
func Deserialize(buffer []byte) (*Packet, []byte, error) {
	if len(buffer) < headerSize {
		return nil, buffer, nil
	}

	payloadSize := binary.BigEndian.Uint32(buffer[:headerSize])
	if uint32(len(buffer)-headerSize) < payloadSize {
		return nil, buffer, nil
	}

	payload := buffer[headerSize : headerSize+int(payloadSize)]
	var fields map[string]interface{}
	if err := msgpack.Unmarshal(payload, &fields); err != nil {
		return nil, buffer, fmt.Errorf("unable to decode packet payload: %w", err)
	}

	return NewPacket(fields), buffer[headerSize+int(payloadSize):], nil
}

// Decoder accumulates bytes arriving from a duplex stream (e.g. a WebSocket
// message or a raw socket read) and yields whole packets as they become
// available. It mirrors the Python original's TransportPacket.deserialize
// loop, but keeps the accumulation buffer as internal state so callers can
// feed it arbitrary byte-wise partitions of the stream.
type Decoder struct {
	buffer []byte
}

// Feed appends newly-received bytes to the decoder's internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buffer = append(d.buffer, data...)
}

// Next attempts to decode the next whole packet out of the accumulated
// buffer. It returns (nil, false, nil) if no complete packet is available
// yet. Decode errors are terminal for the stream since the length prefix
// that follows is no longer trustworthy.
func (d *Decoder) Next() (*Packet, bool, error) {
	packet, remaining, err := Deserialize(d.buffer)
	if err != nil {
		return nil, false, err
	}
	if packet == nil {
		return nil, false, nil
	}
	d.buffer = remaining
	return packet, true, nil
}

// Drain calls Next repeatedly and returns every whole packet currently
// available in the buffer. It's a convenience for callers (like the
// WebSocket transports, which deliver one whole message per read) that want
// to handle the common case where a single read contains zero, one, or more
// than one frame.
func (d *Decoder) Drain() ([]*Packet, error) {
	var packets []*Packet
	for {
		packet, ok, err := d.Next()
		if err != nil {
			return packets, err
		}
		if !ok {
			return packets, nil
		}
		packets = append(packets, packet)
	}
}
