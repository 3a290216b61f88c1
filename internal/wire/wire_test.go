package wire

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	relayerr "gorelay/internal/errors"
)

func TestStringRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"MSG:bob:text with : extra colons",
		"héllo wörld ★",
		strings.Repeat("x", MaxTextFrame),
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteString(&buf, want); err != nil {
			t.Fatalf("WriteString(%q): %v", want, err)
		}
		got, err := ReadString(&buf)
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if got != want {
			t.Errorf("round trip = %q, want %q", got, want)
		}
	}
}

// TestStringWireFormat pins the on-wire layout: 2-byte big-endian
// length followed by UTF-8 bytes, compatible with DataOutputStream
// peers.
func TestStringWireFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "hi"); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x02, 'h', 'i'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = %v, want %v", buf.Bytes(), want)
	}
}

func TestWriteStringTooLong(t *testing.T) {
	var buf bytes.Buffer
	err := WriteString(&buf, strings.Repeat("x", MaxTextFrame+1))
	if !relayerr.Is(err, relayerr.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized frame wrote %d bytes", buf.Len())
	}
}

func TestReadStringCleanEOF(t *testing.T) {
	_, err := ReadString(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReadStringTruncatedLength(t *testing.T) {
	_, err := ReadString(bytes.NewReader([]byte{0x00}))
	if !relayerr.Is(err, relayerr.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestReadStringTruncatedBody(t *testing.T) {
	// Declares 10 bytes, delivers 3.
	_, err := ReadString(bytes.NewReader([]byte{0x00, 0x0A, 'a', 'b', 'c'}))
	if !relayerr.Is(err, relayerr.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestUint64RoundTrip(t *testing.T) {
	for _, want := range []uint64{0, 1, 1024, 1<<32 + 7, math.MaxUint64} {
		var buf bytes.Buffer
		if err := WriteUint64(&buf, want); err != nil {
			t.Fatal(err)
		}
		if buf.Len() != 8 {
			t.Fatalf("encoded length = %d, want 8", buf.Len())
		}
		got, err := ReadUint64(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("round trip = %d, want %d", got, want)
		}
	}
}

func TestReadUint64Truncated(t *testing.T) {
	_, err := ReadUint64(bytes.NewReader([]byte{1, 2, 3}))
	if !relayerr.Is(err, relayerr.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
	// Even a clean EOF is malformed here: a length value is only
	// ever expected mid-exchange.
	_, err = ReadUint64(bytes.NewReader(nil))
	if !relayerr.Is(err, relayerr.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}
