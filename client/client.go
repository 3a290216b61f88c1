// Package client implements the relay's wire protocol from the peer
// side: the username handshake, typed inbound events (roster updates,
// chat lines, file offers), and outbound chat and file frames.
//
// It is strictly a protocol peer: it renders nothing and prompts for
// nothing.  The end-to-end tests and the CLI connect mode are its
// callers.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"

	relayerr "gorelay/internal/errors"
	"gorelay/internal/wire"
	"gorelay/util"
)

// EventKind classifies one inbound server frame.
type EventKind int

const (
	// EventChat is a plain chat line: a delivered message, a server
	// notice, or an echoed unrecognized command.
	EventChat EventKind = iota
	// EventRoster is a USERS: membership update.
	EventRoster
	// EventFileOffer announces an incoming file; the payload follows
	// on the stream and must be consumed with ReadFile or DiscardFile.
	EventFileOffer
)

// Event is one decoded server frame.
type Event struct {
	Kind     EventKind
	Text     string   // EventChat
	Roster   []string // EventRoster
	Sender   string   // EventFileOffer
	Filename string   // EventFileOffer
	Size     uint64   // EventFileOffer
}

// Client is one authenticated connection to a relay.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	name string

	writeMu sync.Mutex

	// pending counts file payload bytes announced by the last offer
	// and not yet consumed.
	pending uint64
}

// Dial connects to a relay without retrying.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// DialRetry connects with exponential backoff.  A nil backoff uses
// DefaultBackoff.
func DialRetry(ctx context.Context, addr string, b *Backoff) (*Client, error) {
	if b == nil {
		b = DefaultBackoff()
	}
	var c *Client
	err := b.do(ctx, func(attempt int) error {
		var err error
		c, err = Dial(ctx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Login performs the username handshake: it reads the server's prompt
// frame and answers with username.  The advisory prompt text is
// returned for callers that want to display it.
func (c *Client) Login(username string) (string, error) {
	prompt, err := wire.ReadString(c.r)
	if err != nil {
		return "", fmt.Errorf("reading username prompt: %w", err)
	}
	if err := c.send(username); err != nil {
		return "", err
	}
	c.name = username
	return prompt, nil
}

// Name returns the name sent at login.  The server may have replaced
// it; the roster is authoritative.
func (c *Client) Name() string { return c.name }

// send writes one text frame under the write lock, so frames from
// different goroutines and an in-flight SendFile never interleave.
func (c *Client) send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteString(c.conn, text)
}

// SendMessage addresses one chat line to the named peer.
func (c *Client) SendMessage(to, text string) error {
	return c.send("MSG:" + to + ":" + text)
}

// SendFile offers filename to the named peer and streams exactly size
// bytes from r, in bounded chunks.
func (c *Client) SendFile(to, filename string, size int64, r io.Reader) error {
	if size < 0 {
		return fmt.Errorf("file size %d is negative", size)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wire.WriteString(c.conn, "FILE:"+to+":"+filename); err != nil {
		return err
	}
	if err := wire.WriteUint64(c.conn, uint64(size)); err != nil {
		return err
	}

	buf := util.GetChunk()
	defer util.PutChunk(buf)

	var sent int64
	for sent < size {
		n := int64(len(*buf))
		if remaining := size - sent; remaining < n {
			n = remaining
		}
		rn, err := io.ReadFull(r, (*buf)[:n])
		if err != nil {
			// The announced length can no longer be honoured; the
			// connection is desynchronized beyond repair.
			return fmt.Errorf("reading file at %d/%d bytes: %v: %w",
				sent, size, err, relayerr.ErrTransferAborted)
		}
		if _, err := c.conn.Write((*buf)[:rn]); err != nil {
			return fmt.Errorf("sending file at %d/%d bytes: %v: %w",
				sent, size, err, relayerr.ErrTransferAborted)
		}
		sent += int64(rn)
	}
	return nil
}

// Next reads one server frame and returns it as a typed event.  If the
// previous event was a file offer whose payload was not consumed, the
// payload is discarded first so the stream stays framed.
func (c *Client) Next() (Event, error) {
	if c.pending > 0 {
		if err := c.DiscardFile(); err != nil {
			return Event{}, err
		}
	}

	frame, err := wire.ReadString(c.r)
	if err != nil {
		return Event{}, err
	}

	switch {
	case strings.HasPrefix(frame, "USERS:"):
		raw := strings.TrimPrefix(frame, "USERS:")
		var names []string
		if raw != "" {
			names = strings.Split(raw, ",")
		}
		return Event{Kind: EventRoster, Roster: names}, nil

	case strings.HasPrefix(frame, "FILE:"):
		rest := strings.TrimPrefix(frame, "FILE:")
		sender, filename, ok := strings.Cut(rest, ":")
		if !ok {
			return Event{}, fmt.Errorf("file announcement %q: %w",
				frame, relayerr.ErrMalformedFrame)
		}
		size, err := wire.ReadUint64(c.r)
		if err != nil {
			return Event{}, err
		}
		if size > math.MaxInt64 {
			return Event{}, fmt.Errorf("announced file length %d: %w",
				size, relayerr.ErrMalformedFrame)
		}
		c.pending = size
		return Event{Kind: EventFileOffer, Sender: sender, Filename: filename, Size: size}, nil

	default:
		return Event{Kind: EventChat, Text: frame}, nil
	}
}

// ReadFile copies the pending file payload to w and returns the byte
// count written.
func (c *Client) ReadFile(w io.Writer) (int64, error) {
	n, err := io.CopyN(w, c.r, int64(c.pending))
	c.pending -= uint64(n)
	if err != nil {
		return n, fmt.Errorf("receiving file: %v: %w", err, relayerr.ErrTransferAborted)
	}
	return n, nil
}

// DiscardFile consumes and drops the pending file payload.
func (c *Client) DiscardFile() error {
	_, err := c.ReadFile(io.Discard)
	return err
}

// Close tears the connection down; any blocked Next unblocks with an
// error.
func (c *Client) Close() error { return c.conn.Close() }
