// Package wire implements the length-prefixed frame primitives every
// protocol message is built from: text frames carry a 2-byte big-endian
// length followed by UTF-8 bytes, and file lengths travel as 8-byte
// big-endian unsigned integers.  The format matches what a Java
// DataInputStream/DataOutputStream peer produces, so existing clients
// interoperate unchanged.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	relayerr "gorelay/internal/errors"
)

// MaxTextFrame is the largest text payload a frame can carry.  The
// 2-byte length prefix bounds it structurally, which also bounds the
// memory a hostile peer can make the decoder allocate.
const MaxTextFrame = (1 << 16) - 1

// WriteString encodes s as one text frame.  The prefix and payload go
// out in a single Write so a frame is never interleaved with other
// traffic on a shared stream.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxTextFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d byte limit: %w",
			len(s), MaxTextFrame, relayerr.ErrMalformedFrame)
	}
	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(s)))
	copy(buf[2:], s)
	_, err := w.Write(buf)
	return err
}

// ReadString decodes one text frame.  A clean EOF at a frame boundary
// is returned as io.EOF so receive loops can treat it as an orderly
// close; anything short of a complete frame wraps ErrMalformedFrame.
func ReadString(r io.Reader) (string, error) {
	var hdr [2]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n == 0 {
			// Nothing read: orderly close or a dead connection.
			// Pass the cause through untouched.
			return "", err
		}
		return "", fmt.Errorf("frame length truncated: %v: %w", err, relayerr.ErrMalformedFrame)
	}

	size := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("frame body short of %d bytes: %v: %w",
			size, err, relayerr.ErrMalformedFrame)
	}
	return string(buf), nil
}

// WriteUint64 encodes a 64-bit unsigned byte count.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 decodes a 64-bit unsigned byte count.  A count is only
// ever expected mid-exchange, so any failure, EOF included, is a
// framing error.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("length value truncated: %v: %w", err, relayerr.ErrMalformedFrame)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
