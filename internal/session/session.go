// Package session owns the full lifetime of one peer connection: the
// username handshake, the framed inbound stream, and a serialized
// outbound stream that the router and relay may write to on behalf of
// other peers.
//
// Sessions are transport-agnostic — they operate on net.Conn, so a
// peer may arrive over raw TCP or the WebSocket adapter and behave
// identically.
package session

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	relayerr "gorelay/internal/errors"
	"gorelay/internal/wire"
	"gorelay/util"
)

// State is a session's lifecycle position.  It only ever advances.
type State int32

const (
	StateOpen State = iota
	StateAuthenticated
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session encapsulates one connected peer.
type Session struct {
	id   string
	conn net.Conn
	r    *bufio.Reader

	mu   sync.Mutex // guards name
	name string

	// writeMu serializes every outbound write.  The session's own
	// loop, the router, and relays on behalf of other peers all call
	// Send concurrently; a frame must never interleave with another.
	writeMu sync.Mutex

	timeout time.Duration // optional read/write deadline, 0 = none
	state   atomic.Int32

	closeOnce sync.Once
	closeErr  error

	logger *util.Logger
}

// Open wraps an established connection.  No network I/O happens here.
func Open(conn net.Conn, timeout time.Duration, logger *util.Logger) *Session {
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
		logger:  logger,
	}
}

// ID returns the log-correlation identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Name returns the display name, or "" before authentication.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName replaces the display name.  Used by the server when a
// submitted name is rejected in favour of a fallback identity.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Advance moves the lifecycle forward.  Moving backwards is a no-op,
// which keeps the state monotonic under racing callers.
func (s *Session) Advance(to State) bool {
	for {
		cur := s.state.Load()
		if cur >= int32(to) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// Timeout returns the configured per-operation deadline (0 = none).
func (s *Session) Timeout() time.Duration { return s.timeout }

// Authenticate sends the prompt frame and decodes the reply as the
// display name.  An empty name after trimming gets the fallback
// identity.  Any stream failure before a complete name frame wraps
// ErrAuthFailed.
func (s *Session) Authenticate(prompt string) (string, error) {
	if err := s.Send(prompt); err != nil {
		return "", relayerr.WrapProtocol("auth", s.conn.RemoteAddr().String(), err)
	}

	if s.timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout)) //nolint:errcheck
		defer s.conn.SetReadDeadline(time.Time{})         //nolint:errcheck
	}

	name, err := wire.ReadString(s.r)
	if err != nil {
		return "", fmt.Errorf("no username from %s: %v: %w",
			s.conn.RemoteAddr(), err, relayerr.ErrAuthFailed)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = s.FallbackName()
	}
	s.SetName(name)
	s.Advance(StateAuthenticated)
	return name, nil
}

// FallbackName synthesizes a unique identity from the remote port, or
// from the session id for transports without a meaningful port.
func (s *Session) FallbackName() string {
	if _, port, err := net.SplitHostPort(s.conn.RemoteAddr().String()); err == nil && port != "" {
		return "Anonymous" + port
	}
	return "Anonymous" + s.id[:8]
}

// ReadFrame decodes the next inbound text frame.  Only the session's
// receive loop may call this.
func (s *Session) ReadFrame() (string, error) {
	return wire.ReadString(s.r)
}

// ReadUint64 decodes an 8-byte length value from the inbound stream.
func (s *Session) ReadUint64() (uint64, error) {
	return wire.ReadUint64(s.r)
}

// Reader exposes the buffered inbound stream for the relay loop.  The
// relay reads it on the receive loop's behalf while handling a file
// offer, never concurrently with it.
func (s *Session) Reader() io.Reader { return s.r }

// SetReadDeadline bounds the next read on the inbound stream.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Send writes one text frame to the peer.  Safe to call from any
// goroutine; frames are delivered in call order.
func (s *Session) Send(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.timeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeout)) //nolint:errcheck
		defer s.conn.SetWriteDeadline(time.Time{})         //nolint:errcheck
	}
	return wire.WriteString(s.conn, text)
}

// WithConn runs fn with exclusive access to the outbound stream.  The
// relay uses this to keep a file announcement, its length value, and
// the streamed payload contiguous on the wire.
func (s *Session) WithConn(fn func(conn net.Conn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.conn)
}

// Close releases the connection exactly once, whichever path (read
// error, eviction, shutdown) gets here first.  Closing unblocks any
// pending read or write on the session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Advance(StateClosed)
		s.closeErr = s.conn.Close()
		if s.logger != nil {
			s.logger.Debug("session %s closed", s.id)
		}
	})
	return s.closeErr
}
