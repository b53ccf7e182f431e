package domain

import "errors"

// Sentinel errors returned by the core services; the dispatcher maps
// these onto apperr's error kinds.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrPeerExists        = errors.New("peer already exists in room")
	ErrTransportNotFound = errors.New("transport not found")
	ErrTransportWrongDir = errors.New("transport has the wrong direction for this operation")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrSelfConsume       = errors.New("peer may not consume its own producer")
	ErrNotConsumable     = errors.New("producer cannot be consumed with the given rtp capabilities")
)
