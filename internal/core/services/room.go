package services

import (
	"encoding/json"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"

	"go.uber.org/zap"
)

// Session is the engine-side counterpart of a domain.Peer: the live
// Channel and the ports-level Transport/Producer/Consumer handles the
// services layer needs to actually drive the media engine. domain.Peer
// itself (shared by pointer with Room.Peers) stays pure data so the
// domain package never imports ports.
type Session struct {
	Peer    *domain.Peer
	Channel ports.Channel

	Transports map[domain.TransportID]ports.Transport
	Producers  map[domain.ProducerID]ports.Producer
	Consumers  map[domain.ConsumerID]ports.Consumer
}

func newSession(peer *domain.Peer, ch ports.Channel) *Session {
	return &Session{
		Peer:       peer,
		Channel:    ch,
		Transports: make(map[domain.TransportID]ports.Transport),
		Producers:  make(map[domain.ProducerID]ports.Producer),
		Consumers:  make(map[domain.ConsumerID]ports.Consumer),
	}
}

// roomSessions is the engine-handle side table kept on RoomEntry, a
// counterpart to domain.Room.Peers: both maps share the same *domain.Peer
// pointer per member, the pure-data half living in domain, the
// engine-handle half living here.
type roomSessions = map[domain.PeerID]*Session

// AddSession inserts a newly joined Peer into both the Room's pure-data
// map and the registry's engine-handle side table. Caller must hold the
// RoomEntry's lock.
func AddSession(entry *RoomEntry, sess *Session) {
	entry.room.Peers[sess.Peer.ID] = sess.Peer
	entry.sessions[sess.Peer.ID] = sess
}

// RemoveSession removes a Peer from both maps. Caller must hold the
// RoomEntry's lock.
func RemoveSession(entry *RoomEntry, peerID domain.PeerID) {
	delete(entry.room.Peers, peerID)
	delete(entry.sessions, peerID)
}

// GetSession looks up a Peer's engine-handle side table. Caller must hold
// the RoomEntry's lock.
func GetSession(entry *RoomEntry, peerID domain.PeerID) (*Session, bool) {
	sess, ok := entry.sessions[peerID]
	return sess, ok
}

// SessionCount reports the number of peers currently in the room. Caller
// must hold the RoomEntry's lock.
func SessionCount(entry *RoomEntry) int {
	return len(entry.sessions)
}

// ListProducers returns the flat {peerId, producerId, kind} list across
// all peers other than excluding, used by get-producers to bootstrap a
// late joiner. Caller must hold the RoomEntry's lock.
func ListProducers(entry *RoomEntry, excluding domain.PeerID) []domain.ProducerRef {
	var refs []domain.ProducerRef
	for peerID, sess := range entry.sessions {
		if peerID == excluding {
			continue
		}
		for _, p := range sess.Peer.Producers {
			if p.Closed {
				continue
			}
			refs = append(refs, domain.ProducerRef{PeerID: peerID, ProducerID: p.ID, Kind: p.Kind})
		}
	}
	return refs
}

// Broadcast emits event/payload to every member peer's channel except
// excluding, best-effort: a failed Emit to one recipient must not prevent
// delivery to the rest and never mutates Room state. Caller must hold the
// RoomEntry's lock.
func Broadcast(log *zap.SugaredLogger, entry *RoomEntry, event string, payload json.RawMessage, excluding domain.PeerID) {
	for peerID, sess := range entry.sessions {
		if peerID == excluding {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warnw("recovered from panic while emitting to peer", "peer_id", peerID, "event", event, "panic", r)
				}
			}()
			sess.Channel.Emit(event, payload)
		}()
	}
}
