// Package router interprets decoded control frames against the
// registry: chat envelopes are delivered to the named peer, file
// offers hand off to the relay loop, and everything else bounces back
// to its originator as a plain chat line.
package router

import (
	"fmt"
	"io"
	"math"
	"strings"

	relayerr "gorelay/internal/errors"
	"gorelay/internal/metrics"
	"gorelay/internal/registry"
	"gorelay/internal/session"
	"gorelay/util"
)

const (
	msgPrefix  = "MSG:"
	filePrefix = "FILE:"
)

// Router routes one peer's inbound frames.  Delivery is best-effort
// and synchronous with the sender's receive loop: no queueing, no
// retry, no acknowledgment.
type Router struct {
	registry *registry.Registry
	logger   *util.Logger
	metrics  *metrics.Collector
}

// New creates a router over the given registry.
func New(reg *registry.Registry, logger *util.Logger, m *metrics.Collector) *Router {
	return &Router{registry: reg, logger: logger, metrics: m}
}

// Dispatch classifies one frame from src and routes it.  A non-nil
// return is fatal to src's receive loop; recipient-side trouble is
// absorbed here and never propagates to the sender.
func (rt *Router) Dispatch(src *session.Session, frame string) error {
	switch {
	case strings.HasPrefix(frame, msgPrefix):
		return rt.routeMessage(src, frame[len(msgPrefix):])
	case strings.HasPrefix(frame, filePrefix):
		return rt.routeFile(src, frame[len(filePrefix):])
	default:
		// Unrecognized command: echo it back to the originator as a
		// chat line with no recipient resolution.
		return src.Send(frame)
	}
}

// routeMessage handles "MSG:<recipient>:<text>".  Only the first colon
// separates recipient from text; the text may contain more.
func (rt *Router) routeMessage(src *session.Session, rest string) error {
	recipient, text, ok := strings.Cut(rest, ":")
	if !ok {
		return src.Send(rest)
	}

	dst, found := rt.registry.Lookup(recipient)
	if !found {
		rt.metrics.NoticeSent()
		return src.Send(offlineNotice(recipient))
	}

	if err := dst.Send(src.Name() + ": " + text); err != nil {
		// The recipient's stream is broken; its own loop notices and
		// cleans up.  The sender is unaffected.
		rt.logger.Verbose("deliver to %s: %v", recipient, err)
		rt.metrics.RecordError(err.Error())
		return nil
	}
	rt.metrics.MessageRelayed()
	return nil
}

// routeFile handles "FILE:<recipient>:<filename>" followed by an
// 8-byte length and that many raw payload bytes.  The length and
// payload are always consumed from src's stream, even when the offer
// cannot be delivered, so src's frame parsing stays synchronized.
func (rt *Router) routeFile(src *session.Session, rest string) error {
	recipient, filename, ok := strings.Cut(rest, ":")

	declared, err := src.ReadUint64()
	if err != nil {
		return err
	}
	if declared > math.MaxInt64 {
		return fmt.Errorf("declared file length %d: %w", declared, relayerr.ErrMalformedFrame)
	}

	if !ok || filename == "" {
		if err := rt.drain(src, declared); err != nil {
			return err
		}
		return src.Send("Malformed file offer.")
	}

	dst, found := rt.registry.Lookup(recipient)
	if !found {
		if err := rt.drain(src, declared); err != nil {
			return err
		}
		rt.metrics.NoticeSent()
		return src.Send(offlineNotice(recipient))
	}

	return rt.relay(dst, src, filename, declared)
}

// drain consumes n undeliverable payload bytes from src's stream.
func (rt *Router) drain(src *session.Session, n uint64) error {
	if n == 0 {
		return nil
	}
	rt.logger.Verbose("draining %d undeliverable bytes from %s", n, src.Name())
	if _, err := io.CopyN(io.Discard, src.Reader(), int64(n)); err != nil {
		return fmt.Errorf("drain %d bytes: %v: %w", n, err, relayerr.ErrConnectionLost)
	}
	return nil
}

func offlineNotice(name string) string {
	return "User " + name + " is not online."
}
