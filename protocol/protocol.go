// Package protocol implements the length-prefixed frame used on every fs-rpc connection.
//
// TCP is a byte stream, so each payload is preceded by its length. The receiver reads
// the fixed 8-byte header first, then exactly that many payload bytes.
//
// Frame format:
//
//	0                 8
//	┌─────────────────┬───────────────────────┐
//	│     length      │      payload ...      │
//	│ uint64 (BE)     │   length bytes        │
//	└─────────────────┴───────────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize = 8
	// MaxFrameSize bounds a single payload. A larger length prefix means the stream
	// is out of sync (or hostile) and the connection must be abandoned.
	MaxFrameSize uint64 = 64 << 20
)

var (
	// ErrProtocol is the parent of every framing error. A connection that returned
	// it cannot be trusted for further frames.
	ErrProtocol      = errors.New("protocol error")
	ErrFrameTooLarge = fmt.Errorf("%w: frame length exceeds limit", ErrProtocol)
)

// Frame prepends the 8-byte big-endian length to payload.
func Frame(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[:HeaderSize], uint64(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Encode writes one complete frame to w with a single Write call.
// The caller must serialize writers sharing w, otherwise frames interleave.
func Encode(w io.Writer, payload []byte) error {
	_, err := w.Write(Frame(payload))
	return err
}

// Decode reads one complete frame from r, limited to MaxFrameSize.
func Decode(r io.Reader) ([]byte, error) {
	return DecodeLimit(r, MaxFrameSize)
}

// DecodeLimit reads one complete frame from r.
// io.ReadFull guarantees exactly N bytes are consumed: a clean close before the header
// yields io.EOF, a close mid-frame yields io.ErrUnexpectedEOF. Neither is an empty payload.
func DecodeLimit(r io.Reader, limit uint64) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint64(header[:])
	if length > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, limit)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
