// Package metrics provides lightweight, lock-free counters for
// tracking runtime statistics of a running relay.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a relay server.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	messagesRelayed   atomic.Int64
	noticesSent       atomic.Int64
	filesRelayed      atomic.Int64
	bytesRelayed      atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Routing metrics ──────────────────────────────────────────────────

// MessageRelayed records one delivered chat envelope.
func (c *Collector) MessageRelayed() {
	if c == nil {
		return
	}
	c.messagesRelayed.Add(1)
}

// MessagesRelayed returns the number of delivered chat envelopes.
func (c *Collector) MessagesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.messagesRelayed.Load()
}

// NoticeSent records one not-online notice returned to a sender.
func (c *Collector) NoticeSent() {
	if c == nil {
		return
	}
	c.noticesSent.Add(1)
}

// NoticesSent returns the number of not-online notices.
func (c *Collector) NoticesSent() int64 {
	if c == nil {
		return 0
	}
	return c.noticesSent.Load()
}

// ── Transfer metrics ─────────────────────────────────────────────────

// FileRelayed records one completed file relay.
func (c *Collector) FileRelayed() {
	if c == nil {
		return
	}
	c.filesRelayed.Add(1)
}

// FilesRelayed returns the number of completed file relays.
func (c *Collector) FilesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.filesRelayed.Load()
}

// BytesRelayed records n payload bytes moved sender→recipient.
func (c *Collector) BytesRelayed(n int64) {
	if c == nil {
		return
	}
	c.bytesRelayed.Add(n)
}

// TotalBytesRelayed returns total payload bytes moved.
func (c *Collector) TotalBytesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.bytesRelayed.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	MessagesRelayed   int64  `json:"messages_relayed"`
	NoticesSent       int64  `json:"notices_sent"`
	FilesRelayed      int64  `json:"files_relayed"`
	BytesRelayed      int64  `json:"bytes_relayed"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		MessagesRelayed:   c.messagesRelayed.Load(),
		NoticesSent:       c.noticesSent.Load(),
		FilesRelayed:      c.filesRelayed.Load(),
		BytesRelayed:      c.bytesRelayed.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
