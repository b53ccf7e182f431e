package domain

// Room holds one Router and a mapping peerId -> Peer. A Room exists iff
// it has at least one Peer or a join-room is currently in progress for
// its id; RoomRegistry enforces that second half via its pending map
// during construction.
type Room struct {
	ID       RoomID
	WorkerID WorkerID
	RouterID string // engine-assigned router handle, opaque

	Peers map[PeerID]*Peer
}

func NewRoom(id RoomID, worker WorkerID, routerID string) *Room {
	return &Room{
		ID:       id,
		WorkerID: worker,
		RouterID: routerID,
		Peers:    make(map[PeerID]*Peer),
	}
}

// ProducerRef is the flat {peerId, producerId, kind} shape returned by
// get-producers and carried in new-producer emissions.
type ProducerRef struct {
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       Kind       `json:"kind"`
}
