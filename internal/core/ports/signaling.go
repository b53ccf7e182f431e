package ports

import "encoding/json"

// Ack is the per-call acknowledgment callback carried implicitly on every
// inbound request. A handler responds exactly once, either with a success
// payload or with an error string. A missing Ack is logged and dropped,
// never propagated past the handler.
type Ack func(result json.RawMessage, errMsg string)

// Channel is the signaling handle for one connected peer: the abstract
// bidirectional message bus whose wire framing the core never sees. Emit
// pushes a server-originated event; it is non-blocking and best-effort,
// so a failed Emit must not propagate to the caller or mutate core state.
type Channel interface {
	PeerID() string
	Emit(event string, payload json.RawMessage)
	Close()
}
