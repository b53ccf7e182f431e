package domain

import "encoding/json"

// Producer is a server-side handle on inbound RTP from a Peer for one
// track. It lives on that Peer's send transport and closes iff that
// transport closes.
type Producer struct {
	ID          ProducerID
	PeerID      PeerID
	TransportID TransportID
	Kind        Kind

	RtpParameters json.RawMessage

	Paused bool
	Closed bool
}
