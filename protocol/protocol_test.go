package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size mismatch: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}
	if got := binary.BigEndian.Uint64(buf.Bytes()[:HeaderSize]); got != uint64(len(body)) {
		t.Fatalf("length prefix mismatch: got %d, want %d", got, len(body))
	}

	decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestFrameUnframeVariousSizes(t *testing.T) {
	for _, size := range []int{0, 1, 7, 8, 9, 255, 4096} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 31)
		}

		got, err := Decode(bytes.NewReader(Frame(payload)))
		if err != nil {
			t.Fatalf("size %d: Decode failed: %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("size %d: payload mismatch", size)
		}
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []byte{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decodedBody) != 0 {
		t.Errorf("Expected empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{[]byte("first"), {}, []byte("third")}
	for _, f := range frames {
		if err := Encode(&buf, f); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range frames {
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %q, want %q", i, got, want)
		}
	}
	if _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expect io.EOF after last frame, got %v", err)
	}
}

func TestDecodeShortRead(t *testing.T) {
	full := Frame([]byte("hello world"))

	// Peer closed in the middle of the payload
	_, err := Decode(bytes.NewReader(full[:len(full)-3]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect io.ErrUnexpectedEOF for truncated payload, got %v", err)
	}

	// Peer closed in the middle of the header
	_, err = Decode(bytes.NewReader(full[:3]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect io.ErrUnexpectedEOF for truncated header, got %v", err)
	}
}

func TestDecodeOversizedLength(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint64(header[:], MaxFrameSize+1)

	_, err := Decode(bytes.NewReader(header[:]))
	if !errors.Is(err, ErrFrameTooLarge) || !errors.Is(err, ErrProtocol) {
		t.Fatalf("expect ErrFrameTooLarge, got %v", err)
	}

	_, err = DecodeLimit(bytes.NewReader(Frame([]byte("0123456789"))), 4)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expect ErrFrameTooLarge with custom limit, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	if err := Encode(&buf, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
