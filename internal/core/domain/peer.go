package domain

// PeerState is one state of the per-peer session state machine:
// new -> joined -> producing -> active -> closing -> closed.
type PeerState string

const (
	PeerStateNew       PeerState = "new"
	PeerStateJoined    PeerState = "joined"
	PeerStateProducing PeerState = "producing"
	PeerStateActive    PeerState = "active"
	PeerStateClosing   PeerState = "closing"
	PeerStateClosed    PeerState = "closed"
)

// CanTransitionTo reports whether moving from s to next is a legal
// transition of the peer session state machine. There is no rejoin: once a
// Peer reaches closing/closed it never returns to an earlier state.
func (s PeerState) CanTransitionTo(next PeerState) bool {
	switch s {
	case PeerStateNew:
		return next == PeerStateJoined
	case PeerStateJoined:
		return next == PeerStateProducing || next == PeerStateClosing
	case PeerStateProducing:
		return next == PeerStateActive || next == PeerStateClosing
	case PeerStateActive:
		return next == PeerStateClosing
	case PeerStateClosing:
		return next == PeerStateClosed
	default:
		return false
	}
}

// Peer is the session object for one connected client within one Room. It
// owns exactly one send transport and one receive transport, a set of
// producers, a set of consumers, and its signaling channel handle. The
// maps are private to the Peer; cross-Peer mutation never happens outside
// the owning Room's serialization domain.
type Peer struct {
	ID     PeerID
	RoomID RoomID
	State  PeerState

	SendTransportID TransportID
	RecvTransportID TransportID

	Producers map[ProducerID]*Producer
	Consumers map[ConsumerID]*Consumer

	// EmittedNewProducer becomes true after this peer's first successful
	// new-producer emission, one of the two conditions for the
	// producing -> active transition.
	EmittedNewProducer bool
}

func NewPeer(id PeerID, room RoomID) *Peer {
	return &Peer{
		ID:        id,
		RoomID:    room,
		State:     PeerStateNew,
		Producers: make(map[ProducerID]*Producer),
		Consumers: make(map[ConsumerID]*Consumer),
	}
}
