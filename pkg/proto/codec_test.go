package proto

import (
	"bytes"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	original := NewRequest(42, CommandWriteFile, map[string]interface{}{
		"path":      "foo/bar.txt",
		"overwrite": true,
		"data":      []byte("hello"),
	})

	frame, err := Serialize(original)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	decoded, remaining, err := Deserialize(frame)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no residual bytes, got %d", len(remaining))
	}

	if decoded.Command() != CommandWriteFile {
		t.Errorf("command = %q, want %q", decoded.Command(), CommandWriteFile)
	}
	if decoded.ID() != 42 {
		t.Errorf("id = %d, want 42", decoded.ID())
	}
	path, ok := decoded.String("path")
	if !ok || path != "foo/bar.txt" {
		t.Errorf("path = %q, %v, want foo/bar.txt, true", path, ok)
	}
	overwrite, ok := decoded.Bool("overwrite")
	if !ok || !overwrite {
		t.Errorf("overwrite = %v, %v, want true, true", overwrite, ok)
	}
	data, ok := decoded.Bytes("data")
	if !ok || !bytes.Equal(data, []byte("hello")) {
		t.Errorf("data = %q, %v, want hello, true", data, ok)
	}
}

func TestDeserializeIncompleteHeader(t *testing.T) {
	packet, remaining, err := Deserialize([]byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if packet != nil {
		t.Fatalf("expected nil packet for incomplete header")
	}
	if len(remaining) != 2 {
		t.Fatalf("expected buffer to be left untouched")
	}
}

func TestDeserializeIncompletePayload(t *testing.T) {
	frame, err := Serialize(NewRequest(1, CommandListDir, map[string]interface{}{"path": "."}))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	truncated := frame[:len(frame)-2]
	packet, remaining, err := Deserialize(truncated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if packet != nil {
		t.Fatalf("expected nil packet for truncated payload")
	}
	if len(remaining) != len(truncated) {
		t.Fatalf("expected buffer to be left untouched for a partial frame")
	}
}

func TestDecoderStreamingByteAtATime(t *testing.T) {
	first, err := Serialize(NewRequest(1, CommandCreateDir, map[string]interface{}{"path": "a"}))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	second, err := Serialize(NewRequest(2, CommandRemoveDir, map[string]interface{}{"path": "b"}))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var decoder Decoder
	var decoded []*Packet

	full := append(append([]byte{}, first...), second...)
	for _, b := range full {
		decoder.Feed([]byte{b})
		packets, err := decoder.Drain()
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		decoded = append(decoded, packets...)
	}

	if len(decoded) != 2 {
		t.Fatalf("expected 2 decoded packets, got %d", len(decoded))
	}
	if decoded[0].Command() != CommandCreateDir || decoded[0].ID() != 1 {
		t.Errorf("first packet = %+v", decoded[0].Fields)
	}
	if decoded[1].Command() != CommandRemoveDir || decoded[1].ID() != 2 {
		t.Errorf("second packet = %+v", decoded[1].Fields)
	}
}

func TestDecoderDrainMultiplePacketsInOneFeed(t *testing.T) {
	first, _ := Serialize(NewRequest(1, CommandListDir, map[string]interface{}{"path": "."}))
	second, _ := Serialize(NewResponse(NewRequest(1, CommandListDir, nil), 0, "", map[string]interface{}{
		"entries": []interface{}{"a", "b"},
	}))

	var decoder Decoder
	decoder.Feed(append(append([]byte{}, first...), second...))

	packets, err := decoder.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets from a single feed, got %d", len(packets))
	}
	if packets[1].Type() != PacketTypeResponse {
		t.Errorf("second packet type = %v, want response", packets[1].Type())
	}
}

func TestPacketSizeField(t *testing.T) {
	p := NewRequest(1, CommandResizeShell, map[string]interface{}{
		"size": []interface{}{80, 24},
	})
	columns, rows, ok := p.Size("size")
	if !ok {
		t.Fatalf("expected size field to decode")
	}
	if columns != 80 || rows != 24 {
		t.Errorf("size = (%d, %d), want (80, 24)", columns, rows)
	}
}
