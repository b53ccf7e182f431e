package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerStateTransitions(t *testing.T) {
	tests := []struct {
		from    PeerState
		to      PeerState
		allowed bool
	}{
		{PeerStateNew, PeerStateJoined, true},
		{PeerStateNew, PeerStateProducing, false},
		{PeerStateJoined, PeerStateProducing, true},
		{PeerStateJoined, PeerStateClosing, true},
		{PeerStateJoined, PeerStateActive, false},
		{PeerStateProducing, PeerStateActive, true},
		{PeerStateProducing, PeerStateClosing, true},
		{PeerStateActive, PeerStateClosing, true},
		{PeerStateActive, PeerStateProducing, false},
		{PeerStateClosing, PeerStateClosed, true},
		{PeerStateClosing, PeerStateJoined, false},
		{PeerStateClosed, PeerStateJoined, false},
		{PeerStateClosed, PeerStateClosed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestNewPeer(t *testing.T) {
	p := NewPeer("a", "r1")
	assert.Equal(t, PeerID("a"), p.ID)
	assert.Equal(t, RoomID("r1"), p.RoomID)
	assert.Equal(t, PeerStateNew, p.State)
	assert.NotNil(t, p.Producers)
	assert.NotNil(t, p.Consumers)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindAudio.Valid())
	assert.True(t, KindVideo.Valid())
	assert.False(t, Kind("screen").Valid())
	assert.False(t, Kind("").Valid())
}

func TestTransportDirections(t *testing.T) {
	send := &Transport{Direction: DirectionSend}
	recv := &Transport{Direction: DirectionRecv}

	assert.True(t, send.CanCarryProducers())
	assert.False(t, send.CanCarryConsumers())
	assert.True(t, recv.CanCarryConsumers())
	assert.False(t, recv.CanCarryProducers())
}
