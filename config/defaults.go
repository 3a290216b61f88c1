package config

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultPort is the rendezvous port peers connect to.
	DefaultPort = 12346

	// DefaultWSPath is the HTTP path of the optional WebSocket
	// endpoint.
	DefaultWSPath = "/ws"
)
