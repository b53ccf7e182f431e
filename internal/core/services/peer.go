package services

import (
	"context"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/pkg/apperr"

	"go.uber.org/zap"
)

// JoinPeer constructs a Peer atomically as part of join-room: it asks the
// Router for a send and a receive transport with the configured bitrate
// budget, wires DTLS-state handlers, and returns both the pure-data Peer
// and its engine-handle Session. If any step after Router acquisition
// fails, every transport created so far is closed before the error is
// returned, so no half-formed Peer is ever left in the Room.
func JoinPeer(
	ctx context.Context,
	router ports.Router,
	ch ports.Channel,
	peerID domain.PeerID,
	roomID domain.RoomID,
	txOpts ports.TransportOptions,
	minimumOutgoingBitrate int,
	onTransportClosed func(peerID domain.PeerID, transportID domain.TransportID),
) (*domain.Peer, *Session, error) {
	peer := domain.NewPeer(peerID, roomID)
	sess := newSession(peer, ch)

	sendOpts := txOpts
	sendOpts.Direction = domain.DirectionSend
	sendTx, err := router.CreateWebRtcTransport(ctx, sendOpts)
	if err != nil {
		return nil, nil, apperr.NewEngineFailed(err)
	}

	recvOpts := txOpts
	recvOpts.Direction = domain.DirectionRecv
	recvTx, err := router.CreateWebRtcTransport(ctx, recvOpts)
	if err != nil {
		_ = sendTx.Close(ctx)
		return nil, nil, apperr.NewEngineFailed(err)
	}

	for _, tx := range []ports.Transport{sendTx, recvTx} {
		if err := tx.SetMinimumAvailableOutgoingBitrate(ctx, minimumOutgoingBitrate); err != nil {
			_ = sendTx.Close(ctx)
			_ = recvTx.Close(ctx)
			return nil, nil, apperr.NewEngineFailed(err)
		}
	}

	attachClosed := func(tx ports.Transport) {
		tid := tx.ID()
		tx.OnEvents(ports.TransportEvents{
			OnDtlsStateChange: func(state domain.ConnectionState) {
				if state == domain.ConnectionStateClosed && onTransportClosed != nil {
					onTransportClosed(peerID, tid)
				}
			},
			OnClose: func() {
				if onTransportClosed != nil {
					onTransportClosed(peerID, tid)
				}
			},
		})
	}
	attachClosed(sendTx)
	attachClosed(recvTx)

	peer.SendTransportID = sendTx.ID()
	peer.RecvTransportID = recvTx.ID()
	sess.Transports[sendTx.ID()] = sendTx
	sess.Transports[recvTx.ID()] = recvTx

	peer.State = domain.PeerStateJoined

	return peer, sess, nil
}

// Teardown runs the first part of the Peer teardown order: close all
// consumers, close all producers, close both transports. The caller is
// responsible for the remaining steps (removing the Peer from the Room,
// closing the Router and removing the Room if it is now empty, and the
// peer-left emission) since those require the RoomEntry, not just the
// Session.
func Teardown(ctx context.Context, log *zap.SugaredLogger, sess *Session) {
	sess.Peer.State = domain.PeerStateClosing

	for id, c := range sess.Consumers {
		if err := c.Close(ctx); err != nil {
			log.Warnw("consumer close failed during teardown", "consumer_id", id, "error", err)
		}
		if dc, ok := sess.Peer.Consumers[id]; ok {
			dc.Closed = true
		}
	}
	for id, p := range sess.Producers {
		if err := p.Close(ctx); err != nil {
			log.Warnw("producer close failed during teardown", "producer_id", id, "error", err)
		}
		if dp, ok := sess.Peer.Producers[id]; ok {
			dp.Closed = true
		}
	}
	for id, tx := range sess.Transports {
		if err := tx.Close(ctx); err != nil {
			log.Warnw("transport close failed during teardown", "transport_id", id, "error", err)
		}
	}

	sess.Peer.State = domain.PeerStateClosed
}
