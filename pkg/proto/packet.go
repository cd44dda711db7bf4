// Package proto defines the wire protocol shared by the wsterm client and
// server: the packet envelope, the command set, and the length-prefixed
// MessagePack codec that frames packets over a duplex byte stream.
//
// The payload of a packet is, by design, a free-form map (see the "Dynamic
// maps in protocol" design note): each command is modeled here as a typed
// variant with a documented set of fields, but those fields are carried as a
// map[string]interface{} on the wire so that the client and server can be
// versioned independently as long as they agree on the fields a given
// command actually reads.
package proto

// PacketType distinguishes a request packet from a response packet.
type PacketType int

const (
	// PacketTypeRequest marks a packet as a request, expecting a RESPONSE
	// packet carrying the same id in reply.
	PacketTypeRequest PacketType = 1
	// PacketTypeResponse marks a packet as a response to a previously sent
	// request, correlated by id.
	PacketTypeResponse PacketType = 2
)

// Command is a wire command identifier (see the command table in spec §6).
type Command string

// The full command set understood by the protocol.
const (
	CommandSyncWorkspace Command = "sync-workspace"
	CommandListDir       Command = "list-dir"
	CommandCreateDir     Command = "create-dir"
	CommandRemoveDir     Command = "remove-dir"
	CommandWriteFile     Command = "write-file"
	CommandRemoveFile    Command = "remove-file"
	CommandMoveItem      Command = "move-item"
	CommandSetPerm       Command = "set-perm"

	CommandCreateShell Command = "create-shell"
	CommandWriteStdin  Command = "write-stdin"
	CommandResizeShell Command = "resize-shell"
	CommandWriteStdout Command = "write-stdout"
	// CommandWriteStderr is not named by the distilled spec but is present in
	// the original protocol (see SPEC_FULL.md "Supplemented features"). The
	// client accepts it and treats it like write-stdout; no server code path
	// sends it, since every shell backend forwards a single output stream.
	CommandWriteStderr Command = "write-stderr"
	CommandExitShell   Command = "exit-shell"
)

// Packet is the decoded form of a wire frame: a type, a command, a
// correlation id, and a free-form set of command-specific fields. Request and
// response packets share this single representation, matching the Python
// original's TransportPacket, which wraps a single dynamic map regardless of
// packet type.
type Packet struct {
	Fields map[string]interface{}
}

// NewPacket wraps a raw field map (as decoded from the wire) in a Packet.
func NewPacket(fields map[string]interface{}) *Packet {
	return &Packet{Fields: fields}
}

// Type returns the packet's type field, or 0 if absent or of the wrong type.
func (p *Packet) Type() PacketType {
	switch v := p.Fields["type"].(type) {
	case int64:
		return PacketType(v)
	case int8:
		return PacketType(v)
	case int:
		return PacketType(v)
	case uint64:
		return PacketType(v)
	default:
		return 0
	}
}

// Command returns the packet's command field, or "" if absent.
func (p *Packet) Command() Command {
	if v, ok := p.Fields["command"].(string); ok {
		return Command(v)
	}
	return ""
}

// ID returns the packet's correlation id field, or 0 if absent.
func (p *Packet) ID() uint64 {
	switch v := p.Fields["id"].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// Code returns the packet's response code field. Only meaningful for
// PacketTypeResponse packets; 0 means success.
func (p *Packet) Code() int {
	switch v := p.Fields["code"].(type) {
	case int64:
		return int(v)
	case int8:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Message returns the packet's response message field, or "" if absent.
func (p *Packet) Message() string {
	if v, ok := p.Fields["message"].(string); ok {
		return v
	}
	return ""
}

// String returns a short field, for a given key, as a string, with ok
// reporting whether the field was present and string-typed.
func (p *Packet) String(key string) (string, bool) {
	v, ok := p.Fields[key].(string)
	return v, ok
}

// Bytes returns a field as a byte slice. MessagePack decodes binary payloads
// as []byte directly, but some decoders may surface them as string; both are
// accepted here since the wire distinction is immaterial to us.
func (p *Packet) Bytes(key string) ([]byte, bool) {
	switch v := p.Fields[key].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// Bool returns a field as a bool.
func (p *Packet) Bool(key string) (bool, bool) {
	v, ok := p.Fields[key].(bool)
	return v, ok
}

// Int returns a field as an int, accepting any of the integer representations
// that might come back out of a MessagePack decode.
func (p *Packet) Int(key string) (int, bool) {
	switch v := p.Fields[key].(type) {
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case int8:
		return int(v), true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Size returns a [columns, rows] field as two ints.
func (p *Packet) Size(key string) (columns, rows int, ok bool) {
	raw, present := p.Fields[key].([]interface{})
	if !present || len(raw) < 2 {
		return 0, 0, false
	}
	c, cok := toInt(raw[0])
	r, rok := toInt(raw[1])
	if !cok || !rok {
		return 0, 0, false
	}
	return c, r, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case int8:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// NewRequest builds the field map for a request packet.
func NewRequest(id uint64, command Command, fields map[string]interface{}) *Packet {
	return merge(map[string]interface{}{
		"type":    int(PacketTypeRequest),
		"command": string(command),
		"id":      id,
	}, fields)
}

// NewResponse builds the field map for a response packet mirroring the id and
// command of the request it answers.
func NewResponse(request *Packet, code int, message string, fields map[string]interface{}) *Packet {
	return merge(map[string]interface{}{
		"type":    int(PacketTypeResponse),
		"command": string(request.Command()),
		"id":      request.ID(),
		"code":    code,
		"message": message,
	}, fields)
}

func merge(base map[string]interface{}, extra map[string]interface{}) *Packet {
	for k, v := range extra {
		base[k] = v
	}
	return &Packet{Fields: base}
}
