package domain

import "encoding/json"

// ConnectionState mirrors the DTLS/ICE connection states surfaced by the
// media engine for a Transport.
type ConnectionState string

const (
	ConnectionStateNew        ConnectionState = "new"
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateConnected  ConnectionState = "connected"
	ConnectionStateClosed     ConnectionState = "closed"
)

// Transport is the server-side handle on one ICE/DTLS/SRTP session with a
// single Peer, opened during join and owned by that Peer for its whole
// lifetime. Parameter fields are opaque JSON blobs round-tripped verbatim
// between the media engine and the client; the core never inspects them.
type Transport struct {
	ID        TransportID
	PeerID    PeerID
	Direction Direction

	IceParameters  json.RawMessage
	IceCandidates  json.RawMessage
	DtlsParameters json.RawMessage
	SctpParameters json.RawMessage

	ConnectionState ConnectionState
	Connected       bool
	Closed          bool
}

// CanCarryProducers reports whether this transport may host Producers.
func (t *Transport) CanCarryProducers() bool {
	return t.Direction == DirectionSend
}

// CanCarryConsumers reports whether this transport may host Consumers.
func (t *Transport) CanCarryConsumers() bool {
	return t.Direction == DirectionRecv
}
