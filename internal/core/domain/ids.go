package domain

// RoomID, PeerID and the resource ids below are opaque strings; comparison
// is byte-equal throughout the core.
type (
	RoomID      string
	PeerID      string
	WorkerID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// Kind is the media kind of a Producer or Consumer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Direction is the direction of a Transport from the server's perspective.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)
