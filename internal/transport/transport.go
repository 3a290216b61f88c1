// Package transport provides the listeners the relay accepts peers
// from.  Transports handle the "how" of byte movement — raw TCP or
// WebSocket-framed streams — independent of the protocol spoken over
// the connection, which is the session layer's job.  Every transport
// yields plain net.Conn values, so the rest of the server never knows
// which one carried a peer.
package transport

import (
	"fmt"
	"net"
)

// ListenTCP opens the primary rendezvous listener.
func ListenTCP(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on :%d: %w", port, err)
	}
	return ln, nil
}
