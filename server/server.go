// Package server runs the rendezvous point: it accepts peers from the
// configured transports, drives each one through the session
// lifecycle, and rebroadcasts the roster on every membership change.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"gorelay/config"
	relayerr "gorelay/internal/errors"
	"gorelay/internal/metrics"
	"gorelay/internal/registry"
	"gorelay/internal/router"
	"gorelay/internal/session"
	"gorelay/internal/transport"
	"gorelay/util"
)

const usernamePrompt = "Enter your username:"

// Server owns the listeners and the shared routing state.  Construct
// with New, run with Run; per-connection failures never escape their
// own goroutine.
type Server struct {
	cfg      *config.Config
	logger   *util.Logger
	registry *registry.Registry
	router   *router.Router
	metrics  *metrics.Collector

	mu   sync.Mutex
	open map[*session.Session]struct{} // every live session, registered or not
}

// New wires a server from its configuration.
func New(cfg *config.Config, logger *util.Logger) *Server {
	reg := registry.New()
	m := metrics.New()
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		router:   router.New(reg, logger, m),
		metrics:  m,
		open:     make(map[*session.Session]struct{}),
	}
}

// Registry exposes the name directory, mainly for tests.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Metrics exposes the collector, mainly for tests.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Run listens until the context is cancelled or a listener fails.
// Listener failures are fatal to the whole server; connection
// failures are isolated per session.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.ListenTCP(s.cfg.Port)
	if err != nil {
		return err
	}
	listeners := []net.Listener{ln}
	s.logger.Info("relay listening on %s (tcp)", ln.Addr())

	if s.cfg.WSPort > 0 {
		wl, err := transport.ListenWS(s.cfg.WSPort, s.cfg.WSPath)
		if err != nil {
			ln.Close()
			return err
		}
		listeners = append(listeners, wl)
		s.logger.Info("relay listening on %s%s (websocket)", wl.Addr(), s.cfg.WSPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Shut every listener down when the context expires.
	go func() {
		<-ctx.Done()
		for _, l := range listeners {
			l.Close()
		}
	}()

	errCh := make(chan error, len(listeners))
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			err := s.acceptLoop(ctx, l)
			if err != nil {
				cancel() // one dead listener stops the server
			}
			errCh <- err
		}(l)
	}
	wg.Wait()
	close(errCh)

	s.closeAll()
	s.logger.Verbose("final stats: %s", s.metrics.JSON())

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if relayerr.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.logger.Verbose("connection from %s", conn.RemoteAddr())
		go s.handleConn(conn)
	}
}

// handleConn drives one peer: authenticate, register, broadcast, pump
// frames, deregister, broadcast again.  It runs in its own goroutine
// and absorbs every error at this boundary.
func (s *Server) handleConn(conn net.Conn) {
	sess := session.Open(conn, s.cfg.Timeout, s.logger)
	s.track(sess)
	s.metrics.ConnectionOpened()
	defer func() {
		sess.Close()
		s.untrack(sess)
		s.metrics.ConnectionClosed()
	}()

	name, err := sess.Authenticate(usernamePrompt)
	if err != nil {
		s.logger.Verbose("session %s: %v", sess.ID(), err)
		s.metrics.RecordError(err.Error())
		return
	}

	if verr := registry.ValidateName(name); verr != nil {
		fallback := sess.FallbackName()
		s.logger.Verbose("session %s: %v, using %s", sess.ID(), verr, fallback)
		sess.Send(fmt.Sprintf("Invalid username %q, you are connected as %s.", name, fallback)) //nolint:errcheck
		name = fallback
		sess.SetName(name)
	}

	if evicted := s.registry.Join(name, sess); evicted != nil {
		s.logger.Info("%s rejoined, evicting session %s", name, evicted.ID())
		evicted.Send("Another connection claimed your name. Goodbye.") //nolint:errcheck
		evicted.Close()
	}
	s.logger.Info("%s has joined (session %s, %s)", name, sess.ID(), conn.RemoteAddr())
	s.broadcastRoster()

	if err := s.receiveLoop(sess); err != nil && !isDisconnect(err) {
		s.logger.Warn("%s: %v", name, err)
		s.metrics.RecordError(err.Error())
	}

	// Leave only removes the mapping if it is still ours; if we were
	// evicted, the newer session owns the name and no broadcast fires.
	if s.registry.Leave(name, sess) {
		s.logger.Info("%s has disconnected", name)
		s.broadcastRoster()
	}
}

func (s *Server) receiveLoop(sess *session.Session) error {
	for {
		frame, err := sess.ReadFrame()
		if err != nil {
			if relayerr.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.router.Dispatch(sess, frame); err != nil {
			return err
		}
	}
}

// broadcastRoster sends the current USERS: frame to every registered
// peer.  A failed send is the recipient's problem, handled by its own
// loop.
func (s *Server) broadcastRoster() {
	roster := "USERS:" + strings.Join(s.registry.Snapshot(), ",")
	for _, sess := range s.registry.Sessions() {
		if err := sess.Send(roster); err != nil {
			s.logger.Verbose("roster to %s: %v", sess.Name(), err)
		}
	}
}

// ── session tracking ─────────────────────────────────────────────────

func (s *Server) track(sess *session.Session) {
	s.mu.Lock()
	s.open[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.open, sess)
	s.mu.Unlock()
}

// closeAll force-closes every live session during shutdown, which
// unblocks their pending reads and lets their loops exit.
func (s *Server) closeAll() {
	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.open))
	for sess := range s.open {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
}

// isDisconnect reports whether err is an ordinary way for a peer to
// go away, as opposed to a protocol violation worth logging loudly.
func isDisconnect(err error) bool {
	return relayerr.Is(err, io.EOF) ||
		relayerr.Is(err, net.ErrClosed) ||
		relayerr.Is(err, io.ErrClosedPipe) ||
		relayerr.Is(err, relayerr.ErrConnectionLost) ||
		relayerr.Is(err, syscall.ECONNRESET) ||
		relayerr.Is(err, syscall.EPIPE)
}
