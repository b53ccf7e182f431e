package domain

import "encoding/json"

// Consumer is a server-side handle on outbound RTP toward a Peer,
// forwarding one Producer's stream. It holds a non-owning reference to its
// source Producer by id; the source's closure reaches the Consumer only
// through an engine event, never through a live pointer.
type Consumer struct {
	ID          ConsumerID
	PeerID      PeerID
	TransportID TransportID
	ProducerID  ProducerID
	Kind        Kind

	RtpParameters json.RawMessage

	Paused bool
	Closed bool
}
