package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func strptr(s string) *string { return &s }
func i64ptr(n int64) *int64   { return &n }

func TestCodecHandshakeFull(t *testing.T) {
	var buf bytes.Buffer

	hs := NewHandshake("a1b2c3d4e5f60718", 9000,
		strptr("movie.mkv"), i64ptr(1<<20), strptr("deadbeef"), i64ptr(65536))
	if err := Encode(&buf, hs); err != nil {
		t.Fatalf("Encode handshake failed: %v", err)
	}

	decoded, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Decode handshake failed: %v", err)
	}

	got, ok := decoded.(*Handshake)
	if !ok {
		t.Fatalf("Expected *Handshake, got %T", decoded)
	}
	if got.ID != "a1b2c3d4e5f60718" {
		t.Errorf("Expected id a1b2c3d4e5f60718, got %s", got.ID)
	}
	if got.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", got.Port)
	}
	if !got.HasMetadata() {
		t.Error("Expected full metadata set")
	}
	if *got.FileSize != 1<<20 || *got.PieceSize != 65536 {
		t.Errorf("Metadata mismatch: size=%d pieceSize=%d", *got.FileSize, *got.PieceSize)
	}
}

func TestCodecHandshakeNullMetadata(t *testing.T) {
	var buf bytes.Buffer

	hs := NewHandshake("0011223344556677", 9001, nil, nil, nil, nil)
	if err := Encode(&buf, hs); err != nil {
		t.Fatalf("Encode handshake failed: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, `"fileHash":null`) {
		t.Errorf("Expected null fileHash on the wire, got %s", line)
	}

	decoded, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Decode handshake failed: %v", err)
	}
	got := decoded.(*Handshake)
	if got.HasMetadata() {
		t.Error("Expected no metadata")
	}
	if got.FileName != nil || got.FileSize != nil || got.FileHash != nil || got.PieceSize != nil {
		t.Error("Expected all metadata fields nil")
	}
}

func TestCodecPieceBase64OnWire(t *testing.T) {
	var buf bytes.Buffer

	if err := Encode(&buf, NewPiece(3, []byte("hello"))); err != nil {
		t.Fatalf("Encode piece failed: %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Error("Expected trailing newline")
	}
	if strings.Count(line, "\n") != 1 {
		t.Errorf("Expected exactly one line, got %q", line)
	}
	// base64("hello")
	if !strings.Contains(line, `"data":"aGVsbG8="`) {
		t.Errorf("Expected base64 payload on the wire, got %s", line)
	}

	decoded, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Decode piece failed: %v", err)
	}
	got := decoded.(*Piece)
	if got.Index != 3 {
		t.Errorf("Expected index 3, got %d", got.Index)
	}
	if !bytes.Equal(got.Data, []byte("hello")) {
		t.Errorf("Piece data mismatch: %q", got.Data)
	}
}

func TestCodecPeers(t *testing.T) {
	var buf bytes.Buffer

	msg := NewPeers([]PeerInfo{
		{ID: "ffffffffffffffff", Host: "10.0.0.2", Port: 9002},
		{ID: "0000000000000001", Host: "10.0.0.3", Port: 9003},
	})
	if err := Encode(&buf, msg); err != nil {
		t.Fatalf("Encode peers failed: %v", err)
	}

	decoded, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Decode peers failed: %v", err)
	}
	got := decoded.(*Peers)
	if len(got.Peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(got.Peers))
	}
	if got.Peers[0].Host != "10.0.0.2" || got.Peers[1].Port != 9003 {
		t.Errorf("Peer entries mismatch: %+v", got.Peers)
	}
}

func TestDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	_ = Encode(&buf, NewRequest(1))
	_ = Encode(&buf, NewHave(2))
	_ = Encode(&buf, NewBitfield([]int{0, 2, 4}))

	// Fragmented delivery must not matter.
	dec := NewDecoder(iotest.OneByteReader(&buf))

	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("First message failed: %v", err)
	}
	if req, ok := msg.(*Request); !ok || req.Index != 1 {
		t.Errorf("Expected request for piece 1, got %#v", msg)
	}

	msg, err = dec.Next()
	if err != nil {
		t.Fatalf("Second message failed: %v", err)
	}
	if have, ok := msg.(*Have); !ok || have.Index != 2 {
		t.Errorf("Expected have for piece 2, got %#v", msg)
	}

	msg, err = dec.Next()
	if err != nil {
		t.Fatalf("Third message failed: %v", err)
	}
	if bf, ok := msg.(*Bitfield); !ok || len(bf.Pieces) != 3 {
		t.Errorf("Expected bitfield of 3 pieces, got %#v", msg)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestDecoderSkipsEmptyLines(t *testing.T) {
	input := "\n\n" + `{"type":"have","index":7}` + "\n\n"
	dec := NewDecoder(strings.NewReader(input))

	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if have, ok := msg.(*Have); !ok || have.Index != 7 {
		t.Errorf("Expected have for piece 7, got %#v", msg)
	}
}

func TestDecoderMalformedLineKeepsStream(t *testing.T) {
	input := "this is not json\n" + `{"type":"request","index":5}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Next()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Expected ErrMalformed, got %v", err)
	}

	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("Stream should survive a malformed line: %v", err)
	}
	if req, ok := msg.(*Request); !ok || req.Index != 5 {
		t.Errorf("Expected request for piece 5, got %#v", msg)
	}
}

func TestDecoderUnknownType(t *testing.T) {
	input := `{"type":"choke"}` + "\n" + `{"type":"have","index":1}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Next()
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Expected ErrUnknownType, got %v", err)
	}

	if _, err := dec.Next(); err != nil {
		t.Errorf("Stream should survive an unknown type: %v", err)
	}
}

func TestDecoderOversizedLine(t *testing.T) {
	huge := `{"type":"piece","index":0,"data":"` + strings.Repeat("A", MaxMessageSize+1024) + `"}` + "\n"
	input := huge + `{"type":"have","index":9}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Next()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Expected ErrMalformed for oversized line, got %v", err)
	}

	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("Stream should survive an oversized line: %v", err)
	}
	if have, ok := msg.(*Have); !ok || have.Index != 9 {
		t.Errorf("Expected have for piece 9, got %#v", msg)
	}
}
