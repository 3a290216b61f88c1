package transport

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay has no origin policy; a display name is the only
	// identity a peer carries.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSListener accepts WebSocket connections and presents each one as a
// net.Conn speaking the same length-prefixed protocol as raw TCP.
// Binary messages are treated as a byte stream; message boundaries
// carry no protocol meaning.
type WSListener struct {
	ln    net.Listener
	srv   *http.Server
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

// ListenWS starts an HTTP server on port that upgrades requests at
// path into relay connections.
func ListenWS(port int, path string) (*WSListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("websocket listen on :%d: %w", port, err)
	}

	l := &WSListener{
		ln:    ln,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.upgrade)
	l.srv = &http.Server{Handler: mux}

	go l.srv.Serve(ln) //nolint:errcheck

	return l, nil
}

func (l *WSListener) upgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied with an HTTP error
	}
	select {
	case l.conns <- newWSConn(ws):
	case <-l.done:
		ws.Close()
	}
}

// Accept blocks until the next upgraded connection or Close.
func (l *WSListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close shuts the HTTP server and the underlying listener; idempotent.
func (l *WSListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the listener's address.
func (l *WSListener) Addr() net.Addr { return l.ln.Addr() }

// ── net.Conn adapter ─────────────────────────────────────────────────

// wsConn flattens a websocket connection's binary messages into a
// contiguous byte stream.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader // current in-progress message, nil between messages
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Message exhausted; continue with the next one.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	w, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(p)
	if err != nil {
		w.Close() //nolint:errcheck
		return n, err
	}
	return n, w.Close()
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
