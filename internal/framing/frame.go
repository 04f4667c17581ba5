// Package framing implements the one-frame-per-connection socket protocol
// packets travel over:
//
//	[4-byte BE length][4-byte BE CRC32 (IEEE) of payload][payload]
//
// answered by a single ACK (0x06) or NAK (0x15) byte.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// ACK confirms a frame whose checksum matched.
	ACK byte = 0x06
	// NAK rejects a frame.
	NAK byte = 0x15

	// MaxPayload is the largest payload a receiver accepts.
	MaxPayload = 1 << 20

	headerSize = 8

	// DefaultPort is the relay socket port.
	DefaultPort = 8888
)

var (
	ErrInvalidLength = errors.New("invalid frame length")
	ErrChecksum      = errors.New("frame checksum mismatch")
	ErrNAK           = errors.New("peer rejected frame")
)

// Encode builds a frame around payload.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// ReadFrame reads one frame and verifies its checksum. A declared length
// outside (0, MaxPayload] is rejected before any payload is read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	if length == 0 || length > MaxPayload {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	sum := binary.BigEndian.Uint32(hdr[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if crc32.ChecksumIEEE(payload) != sum {
		return nil, ErrChecksum
	}
	return payload, nil
}
