package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/pkg/apperr"
	"signalcore/pkg/retry"
	"signalcore/pkg/tracing"
	"signalcore/pkg/validation"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// location is the dispatcher's record of which Room and peerId a Channel
// is currently bound to. Every request after join-room carries only the
// implicit channel, never roomId again; the dispatcher is the one place
// that remembers the mapping.
type location struct {
	roomID domain.RoomID
	peerID domain.PeerID
}

// Dispatcher is the request/response and event multiplexer sitting
// between the signaling transport and the core services (RoomRegistry,
// Room, Peer). For each inbound call it validates arguments, locates the
// Peer, invokes the media-engine operation, and acks exactly once; for
// each media-plane event it fans a notification out to the right subset
// of peers in the room.
type Dispatcher struct {
	log     *zap.SugaredLogger
	rooms   ports.RoomRegistry
	txOpts  ports.TransportOptions
	metrics ports.Metrics

	minOutgoingBitrate int
	engineCallTimeout  time.Duration

	mu        sync.Mutex
	locations map[ports.Channel]*location
}

func NewDispatcher(
	log *zap.SugaredLogger,
	rooms ports.RoomRegistry,
	txOpts ports.TransportOptions,
	minOutgoingBitrate int,
	engineCallTimeout time.Duration,
	metrics ports.Metrics,
) *Dispatcher {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Dispatcher{
		log:                log,
		rooms:              rooms,
		txOpts:             txOpts,
		metrics:            metrics,
		minOutgoingBitrate: minOutgoingBitrate,
		engineCallTimeout:  engineCallTimeout,
		locations:          make(map[ports.Channel]*location),
	}
}

// withTimeout bounds a call into the media engine; an engine call that
// never completes is treated as EngineFailed once the deadline passes.
func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.engineCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.engineCallTimeout)
}

// engineSpan opens a span around one engine call. The returned finish
// func records the call's error, if any, and ends the span.
func engineSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	spanCtx, span := tracing.TraceEngineCall(ctx, op)
	tracing.AddSpanAttributes(spanCtx, attrs...)
	return spanCtx, func(err error) {
		if err != nil {
			tracing.RecordError(spanCtx, err)
		}
		span.End()
	}
}

// HandleRequest processes one inbound RPC call. It validates arguments,
// locates the Peer, invokes the media-engine operation, and acks exactly
// once. It never panics past this call: a nil ack is logged and dropped.
func (d *Dispatcher) HandleRequest(ctx context.Context, ch ports.Channel, method string, args json.RawMessage, ack ports.Ack) {
	if ack == nil {
		d.log.Warnw("request received with no acknowledgment callback, dropping", "method", method, "peer_id", ch.PeerID())
		return
	}

	start := time.Now()
	timedAck := func(result json.RawMessage, errMsg string) {
		ack(result, errMsg)
		d.metrics.RecordRPC(method, errMsg == "", time.Since(start))
	}

	// produce acks, then broadcasts new-producer itself: other peers must
	// see the emission strictly after this peer's own ack is sent, which
	// the generic ack-after-return path below cannot guarantee.
	if method == "produce" {
		d.produceAndAck(ctx, ch, args, timedAck)
		return
	}

	var result interface{}
	var err error

	switch method {
	case "join-room":
		result, err = d.joinRoom(ctx, ch, args)
	case "connect-transport":
		result, err = d.connectTransport(ctx, ch, args)
	case "consume":
		result, err = d.consume(ctx, ch, args)
	case "resume-consumer":
		result, err = d.resumeConsumer(ctx, ch, args)
	case "get-producers":
		result, err = d.getProducers(ctx, ch, args)
	default:
		err = apperr.NewArgumentInvalid(fmt.Sprintf("unknown method %q", method))
	}

	if err != nil {
		if ae := apperr.As(err); ae != nil && ae.Kind == apperr.Fatal {
			// Fatal bypasses the client entirely; the WorkerPool's onFatal
			// hook is responsible for process exit, triggered by whatever
			// engine call produced this error. Still ack so the client
			// isn't left hanging before the process dies.
			timedAck(nil, "internal error")
			return
		}
		timedAck(nil, err.Error())
		return
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		d.log.Errorw("failed to marshal ack payload", "method", method, "error", marshalErr)
		timedAck(nil, "internal error")
		return
	}
	timedAck(payload, "")
}

// HandleDisconnect runs Peer teardown for ch's peer, if any. It is
// idempotent: a channel with no recorded location is a no-op, which
// covers both "never joined" and "teardown already ran."
func (d *Dispatcher) HandleDisconnect(ctx context.Context, ch ports.Channel) {
	d.mu.Lock()
	loc, ok := d.locations[ch]
	if ok {
		delete(d.locations, ch)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	handle, ok := d.rooms.Get(loc.roomID)
	if !ok {
		return
	}
	d.teardownPeer(ctx, handle, loc.peerID)
}

// teardownPeer runs the peer teardown order (consumers, producers,
// transports, removal from the room) and the room-emptying / peer-left
// steps that follow it. Caller must NOT be holding the room's lock.
func (d *Dispatcher) teardownPeer(ctx context.Context, handle ports.RoomHandle, peerID domain.PeerID) {
	entry := handle.(*RoomEntry)

	entry.Lock()
	sess, ok := GetSession(entry, peerID)
	if !ok {
		entry.Unlock()
		return
	}
	closedProducers := len(sess.Producers)
	closedConsumers := len(sess.Consumers)
	Teardown(ctx, d.log, sess)
	RemoveSession(entry, peerID)
	empty := SessionCount(entry) == 0
	entry.Unlock()

	for i := 0; i < closedProducers; i++ {
		d.metrics.ProducerClosed()
	}
	for i := 0; i < closedConsumers; i++ {
		d.metrics.ConsumerClosed()
	}
	d.metrics.PeerLeft()

	if empty {
		if err := d.rooms.Delete(ctx, entry.Room().ID); err != nil {
			d.log.Warnw("room deletion failed after last peer left", "room_id", entry.Room().ID, "error", err)
		}
	}

	// peer-left is emitted strictly after the peer's resources are
	// closed; Teardown above already ran to completion before this point.
	payload, _ := json.Marshal(map[string]domain.PeerID{"peerId": peerID})
	entry.Lock()
	Broadcast(d.log, entry, "peer-left", payload, peerID)
	entry.Unlock()
	d.metrics.RecordEmission("peer-left")
}

// --- join-room ---------------------------------------------------------

type joinRoomArgs struct {
	RoomID domain.RoomID `json:"roomId"`
	PeerID domain.PeerID `json:"peerId"`
}

type transportDesc struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  json.RawMessage    `json:"iceParameters"`
	IceCandidates  json.RawMessage    `json:"iceCandidates"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
	SctpParameters json.RawMessage    `json:"sctpParameters"`
}

type joinRoomResult struct {
	SendTransport         transportDesc   `json:"sendTransport"`
	RecvTransport         transportDesc   `json:"recvTransport"`
	RouterRtpCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

func (d *Dispatcher) joinRoom(ctx context.Context, ch ports.Channel, raw json.RawMessage) (interface{}, error) {
	var args joinRoomArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.NewArgumentInvalid("malformed join-room arguments")
	}
	if err := validation.ValidateID(string(args.RoomID), "roomId"); err != nil {
		return nil, apperr.NewArgumentInvalid(err.Error())
	}
	if err := validation.ValidateID(string(args.PeerID), "peerId"); err != nil {
		return nil, apperr.NewArgumentInvalid(err.Error())
	}

	handle, err := d.rooms.GetOrCreate(ctx, args.RoomID)
	if err != nil {
		return nil, err
	}
	entry := handle.(*RoomEntry)

	entry.Lock()
	if _, exists := GetSession(entry, args.PeerID); exists {
		entry.Unlock()
		return nil, apperr.NewConflict(fmt.Sprintf("peer %q already exists in room %q", args.PeerID, args.RoomID))
	}
	router := entry.Router()
	entry.Unlock()

	joinCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	onTransportClosed := func(peerID domain.PeerID, transportID domain.TransportID) {
		d.onTransportClosed(entry, peerID, transportID)
	}

	engineCtx, end := engineSpan(joinCtx, "create-transport", tracing.RoomIDKey.String(string(args.RoomID)))
	peer, sess, err := JoinPeer(engineCtx, router, ch, args.PeerID, args.RoomID, d.txOpts, d.minOutgoingBitrate, onTransportClosed)
	end(err)
	if err != nil {
		// A Room left without peers by this failed join is removed.
		entry.Lock()
		empty := SessionCount(entry) == 0
		entry.Unlock()
		if empty {
			if delErr := d.rooms.Delete(ctx, args.RoomID); delErr != nil {
				d.log.Warnw("room deletion failed after failed join", "room_id", args.RoomID, "error", delErr)
			}
		}
		return nil, err
	}

	entry.Lock()
	if _, exists := GetSession(entry, args.PeerID); exists {
		entry.Unlock()
		// Lost a race against a concurrent join for the same peerId; roll
		// back every transport we just created so no half-formed Peer is
		// left in the Room.
		for _, tx := range sess.Transports {
			_ = tx.Close(joinCtx)
		}
		return nil, apperr.NewConflict(fmt.Sprintf("peer %q already exists in room %q", args.PeerID, args.RoomID))
	}
	AddSession(entry, sess)
	entry.Unlock()

	d.mu.Lock()
	d.locations[ch] = &location{roomID: args.RoomID, peerID: args.PeerID}
	d.mu.Unlock()

	sendTx := sess.Transports[peer.SendTransportID]
	recvTx := sess.Transports[peer.RecvTransportID]

	result := &joinRoomResult{
		SendTransport: transportDesc{
			ID: sendTx.ID(), IceParameters: sendTx.IceParameters(), IceCandidates: sendTx.IceCandidates(),
			DtlsParameters: sendTx.DtlsParameters(), SctpParameters: sendTx.SctpParameters(),
		},
		RecvTransport: transportDesc{
			ID: recvTx.ID(), IceParameters: recvTx.IceParameters(), IceCandidates: recvTx.IceCandidates(),
			DtlsParameters: recvTx.DtlsParameters(), SctpParameters: recvTx.SctpParameters(),
		},
		RouterRtpCapabilities: router.RtpCapabilities(),
	}

	// peer-joined is an emission, not part of this peer's own ack; the
	// emitting peer never receives its own event.
	payload, _ := json.Marshal(map[string]domain.PeerID{"peerId": args.PeerID})
	entry.Lock()
	Broadcast(d.log, entry, "peer-joined", payload, args.PeerID)
	entry.Unlock()
	d.metrics.RecordEmission("peer-joined")
	d.metrics.PeerJoined()

	return result, nil
}

// onTransportClosed is the cascade for a DTLS-state-closed or
// transport-close event: it tears down the owning Peer exactly as a
// disconnect would. It must tolerate firing after the Peer is already
// gone, since the engine may deliver the event late.
func (d *Dispatcher) onTransportClosed(entry *RoomEntry, peerID domain.PeerID, _ domain.TransportID) {
	ctx := context.Background()

	d.mu.Lock()
	for ch, loc := range d.locations {
		if loc.roomID == entry.Room().ID && loc.peerID == peerID {
			delete(d.locations, ch)
			break
		}
	}
	d.mu.Unlock()

	d.teardownPeer(ctx, entry, peerID)
}

// --- connect-transport ---------------------------------------------------

type connectTransportArgs struct {
	TransportID    domain.TransportID `json:"transportId"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
}

func (d *Dispatcher) connectTransport(ctx context.Context, ch ports.Channel, raw json.RawMessage) (interface{}, error) {
	var args connectTransportArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.NewArgumentInvalid("malformed connect-transport arguments")
	}
	if err := validation.ValidateNonEmptyJSON(args.DtlsParameters, "dtlsParameters"); err != nil {
		return nil, apperr.NewArgumentInvalid(err.Error())
	}

	entry, sess, err := d.lookupLocked(ch)
	if err != nil {
		return nil, err
	}
	tx, ok := sess.Transports[args.TransportID]
	entry.Unlock()
	if !ok {
		return nil, apperr.NewNotFound("transport")
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	// connect-transport is idempotent at the engine level when given the
	// same dtlsParameters; retry is therefore safe here, as it is for
	// resume-consumer, the only other handler that retries its engine
	// call. The Room's lock is not held
	// across the engine call: engine calls interleave freely across peers
	// in the same Room.
	engineCtx, end := engineSpan(callCtx, "connect-transport")
	err = retry.Retry(engineCtx, retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Multiplier: 2.0}, func() error {
		return tx.Connect(engineCtx, args.DtlsParameters)
	})
	end(err)
	if err != nil {
		return nil, apperr.NewEngineFailed(err)
	}

	return map[string]bool{"success": true}, nil
}

// --- produce -------------------------------------------------------------

type produceArgs struct {
	TransportID   domain.TransportID `json:"transportId"`
	Kind          domain.Kind        `json:"kind"`
	RtpParameters json.RawMessage    `json:"rtpParameters"`
}

// produceAndAck implements produce and then the new-producer emission,
// acking before broadcasting so that every other peer sees new-producer
// after the producing peer's own acknowledgment, regardless of how
// synchronous the underlying Channel.Emit is.
func (d *Dispatcher) produceAndAck(ctx context.Context, ch ports.Channel, raw json.RawMessage, ack ports.Ack) {
	ref, err := d.produce(ctx, ch, raw)
	if err != nil {
		if ae := apperr.As(err); ae != nil && ae.Kind == apperr.Fatal {
			ack(nil, "internal error")
			return
		}
		ack(nil, err.Error())
		return
	}

	payload, marshalErr := json.Marshal(map[string]domain.ProducerID{"id": ref.ProducerID})
	if marshalErr != nil {
		d.log.Errorw("failed to marshal produce ack payload", "error", marshalErr)
		ack(nil, "internal error")
		return
	}
	ack(payload, "")

	eventPayload, _ := json.Marshal(ref)
	entry, ok := d.rooms.Get(ref.roomID)
	if !ok {
		return
	}
	re := entry.(*RoomEntry)
	re.Lock()
	if s, ok := GetSession(re, ref.PeerID); ok {
		s.Peer.EmittedNewProducer = true
	}
	Broadcast(d.log, re, "new-producer", eventPayload, ref.PeerID)
	re.Unlock()
	d.metrics.RecordEmission("new-producer")
}

// producedRef carries the Producer's Room alongside the wire-level
// ProducerRef, since produceAndAck needs the Room to broadcast but
// ProducerRef itself has no room field (it is also the client-facing
// get-producers/new-producer payload shape).
type producedRef struct {
	domain.ProducerRef
	roomID domain.RoomID
}

func (d *Dispatcher) produce(ctx context.Context, ch ports.Channel, raw json.RawMessage) (*producedRef, error) {
	var args produceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.NewArgumentInvalid("malformed produce arguments")
	}
	if !args.Kind.Valid() {
		return nil, apperr.NewArgumentInvalid("kind must be \"audio\" or \"video\"")
	}
	if err := validation.ValidateNonEmptyJSON(args.RtpParameters, "rtpParameters"); err != nil {
		return nil, apperr.NewArgumentInvalid(err.Error())
	}

	entry, sess, err := d.lookupLocked(ch)
	if err != nil {
		return nil, err
	}

	tx, ok := sess.Transports[args.TransportID]
	if !ok || tx.ID() != sess.Peer.SendTransportID {
		entry.Unlock()
		return nil, apperr.NewNotFound("transport")
	}
	peerID := sess.Peer.ID
	roomID := entry.Room().ID
	entry.Unlock()

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	engineCtx, end := engineSpan(callCtx, "produce")
	engineProducer, err := tx.Produce(engineCtx, args.Kind, args.RtpParameters)
	end(err)
	if err != nil {
		return nil, apperr.NewEngineRejected(err.Error())
	}

	entry.Lock()
	sess, ok = GetSession(entry, peerID)
	if !ok {
		entry.Unlock()
		// Peer torn down while the engine call was in flight; roll back
		// the orphaned engine resource and report as if the transport had
		// vanished.
		_ = engineProducer.Close(callCtx)
		return nil, apperr.NewNotFound("transport")
	}

	domainProducer := &domain.Producer{
		ID: engineProducer.ID(), PeerID: peerID, TransportID: args.TransportID,
		Kind: args.Kind, RtpParameters: args.RtpParameters,
	}
	sess.Peer.Producers[domainProducer.ID] = domainProducer
	sess.Producers[domainProducer.ID] = engineProducer
	if sess.Peer.State.CanTransitionTo(domain.PeerStateProducing) {
		sess.Peer.State = domain.PeerStateProducing
	}

	engineProducer.OnEvents(ports.ProducerEvents{
		OnTransportClose: func() { d.onProducerTransportClose(entry, peerID, domainProducer.ID) },
	})
	entry.Unlock()
	d.metrics.ProducerOpened()

	return &producedRef{
		ProducerRef: domain.ProducerRef{PeerID: peerID, ProducerID: domainProducer.ID, Kind: domainProducer.Kind},
		roomID:      roomID,
	}, nil
}

func (d *Dispatcher) onProducerTransportClose(entry *RoomEntry, peerID domain.PeerID, producerID domain.ProducerID) {
	entry.Lock()
	sess, ok := GetSession(entry, peerID)
	if !ok {
		entry.Unlock()
		return
	}
	_, present := sess.Producers[producerID]
	if p, ok := sess.Peer.Producers[producerID]; ok {
		p.Closed = true
	}
	delete(sess.Producers, producerID)
	entry.Unlock()
	if present {
		d.metrics.ProducerClosed()
	}
}

// --- consume ---------------------------------------------------------------

type consumeArgs struct {
	TransportID     domain.TransportID `json:"transportId"`
	ProducerID      domain.ProducerID  `json:"producerId"`
	RtpCapabilities json.RawMessage    `json:"rtpCapabilities"`
}

type consumeResult struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.Kind       `json:"kind"`
	RtpParameters json.RawMessage   `json:"rtpParameters"`
}

func (d *Dispatcher) consume(ctx context.Context, ch ports.Channel, raw json.RawMessage) (interface{}, error) {
	var args consumeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.NewArgumentInvalid("malformed consume arguments")
	}
	if err := validation.ValidateNonEmptyJSON(args.RtpCapabilities, "rtpCapabilities"); err != nil {
		return nil, apperr.NewArgumentInvalid(err.Error())
	}

	entry, sess, err := d.lookupLocked(ch)
	if err != nil {
		return nil, err
	}

	tx, ok := sess.Transports[args.TransportID]
	if !ok || tx.ID() != sess.Peer.RecvTransportID {
		entry.Unlock()
		return nil, apperr.NewNotFound("transport")
	}

	// Locate the source Producer's owning peer; consuming your own
	// producer is refused.
	var sourcePeerID domain.PeerID
	var sourceKind domain.Kind
	found := false
	for pid, s := range entry.sessions {
		if p, ok := s.Peer.Producers[args.ProducerID]; ok && !p.Closed {
			sourcePeerID = pid
			sourceKind = p.Kind
			found = true
			break
		}
	}
	if !found {
		entry.Unlock()
		return nil, apperr.NewNotFound("producer")
	}
	if sourcePeerID == sess.Peer.ID {
		entry.Unlock()
		return nil, apperr.NewArgumentInvalid(domain.ErrSelfConsume.Error())
	}
	router := entry.Router()
	peerID := sess.Peer.ID
	entry.Unlock()

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	probeCtx, endProbe := engineSpan(callCtx, "can-consume", tracing.ProducerIDKey.String(string(args.ProducerID)))
	canConsume, err := router.CanConsume(probeCtx, args.ProducerID, args.RtpCapabilities)
	endProbe(err)
	if err != nil {
		return nil, apperr.NewEngineFailed(err)
	}
	if !canConsume {
		return nil, apperr.NewEngineRejected(domain.ErrNotConsumable.Error())
	}

	// The engine's Consume takes no paused flag: every Consumer comes back
	// paused (see ports.Consumer) and delivers no media until
	// resume-consumer resumes it.
	engineCtx, end := engineSpan(callCtx, "consume", tracing.ProducerIDKey.String(string(args.ProducerID)))
	engineConsumer, err := tx.Consume(engineCtx, args.ProducerID, args.RtpCapabilities)
	end(err)
	if err != nil {
		return nil, apperr.NewEngineRejected(err.Error())
	}

	entry.Lock()
	sess, ok = GetSession(entry, peerID)
	if !ok {
		entry.Unlock()
		_ = engineConsumer.Close(callCtx)
		return nil, apperr.NewNotFound("transport")
	}

	domainConsumer := &domain.Consumer{
		ID: engineConsumer.ID(), PeerID: peerID, TransportID: args.TransportID,
		ProducerID: args.ProducerID, Kind: sourceKind, RtpParameters: engineConsumer.RtpParameters(),
		Paused: true,
	}
	sess.Peer.Consumers[domainConsumer.ID] = domainConsumer
	sess.Consumers[domainConsumer.ID] = engineConsumer

	engineConsumer.OnEvents(ports.ConsumerEvents{
		OnTransportClose: func() { d.onConsumerClosed(entry, peerID, domainConsumer.ID) },
		OnProducerClose:  func() { d.onConsumerClosed(entry, peerID, domainConsumer.ID) },
	})
	entry.Unlock()
	d.metrics.ConsumerOpened()

	return &consumeResult{
		ID: domainConsumer.ID, ProducerID: args.ProducerID,
		Kind: sourceKind, RtpParameters: domainConsumer.RtpParameters,
	}, nil
}

func (d *Dispatcher) onConsumerClosed(entry *RoomEntry, peerID domain.PeerID, consumerID domain.ConsumerID) {
	entry.Lock()
	sess, ok := GetSession(entry, peerID)
	if !ok {
		entry.Unlock()
		return
	}
	_, present := sess.Consumers[consumerID]
	if c, ok := sess.Peer.Consumers[consumerID]; ok {
		c.Closed = true
	}
	delete(sess.Consumers, consumerID)
	entry.Unlock()
	if present {
		d.metrics.ConsumerClosed()
	}
}

// --- resume-consumer -------------------------------------------------------

type resumeConsumerArgs struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (d *Dispatcher) resumeConsumer(ctx context.Context, ch ports.Channel, raw json.RawMessage) (interface{}, error) {
	var args resumeConsumerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.NewArgumentInvalid("malformed resume-consumer arguments")
	}

	entry, sess, err := d.lookupLocked(ch)
	if err != nil {
		return nil, err
	}
	peerID := sess.Peer.ID
	engineConsumer, ok := sess.Consumers[args.ConsumerID]
	entry.Unlock()
	if !ok {
		return nil, apperr.NewNotFound("consumer")
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	// resume-consumer is idempotent at the engine level, so a bounded
	// retry is safe.
	engineCtx, end := engineSpan(callCtx, "resume-consumer", tracing.ConsumerIDKey.String(string(args.ConsumerID)))
	err = retry.Retry(engineCtx, retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Multiplier: 2.0}, func() error {
		return engineConsumer.Resume(engineCtx)
	})
	end(err)
	if err != nil {
		return nil, apperr.NewEngineFailed(err)
	}

	entry.Lock()
	defer entry.Unlock()
	sess, ok = GetSession(entry, peerID)
	if !ok {
		return map[string]bool{"success": true}, nil
	}
	if dc, ok := sess.Peer.Consumers[args.ConsumerID]; ok {
		dc.Paused = false
	}
	if sess.Peer.EmittedNewProducer && sess.Peer.State.CanTransitionTo(domain.PeerStateActive) {
		sess.Peer.State = domain.PeerStateActive
	}

	return map[string]bool{"success": true}, nil
}

// --- get-producers ---------------------------------------------------------

type getProducersResult struct {
	Producers []domain.ProducerRef `json:"producers"`
}

func (d *Dispatcher) getProducers(ctx context.Context, ch ports.Channel, _ json.RawMessage) (interface{}, error) {
	entry, sess, err := d.lookupLocked(ch)
	if err != nil {
		return nil, err
	}
	defer entry.Unlock()

	refs := ListProducers(entry, sess.Peer.ID)
	if sess.Peer.EmittedNewProducer && sess.Peer.State.CanTransitionTo(domain.PeerStateActive) {
		sess.Peer.State = domain.PeerStateActive
	}
	return &getProducersResult{Producers: refs}, nil
}

// lookupLocked resolves ch to its Room entry and Session, returning the
// entry already locked on success (caller must Unlock). It is the shared
// precondition of every method after join-room: "Peer exists."
func (d *Dispatcher) lookupLocked(ch ports.Channel) (*RoomEntry, *Session, error) {
	d.mu.Lock()
	loc, ok := d.locations[ch]
	d.mu.Unlock()
	if !ok {
		return nil, nil, apperr.NewNotFound("peer (not joined)")
	}

	handle, ok := d.rooms.Get(loc.roomID)
	if !ok {
		return nil, nil, apperr.NewNotFound("room")
	}
	entry := handle.(*RoomEntry)

	entry.Lock()
	sess, ok := GetSession(entry, loc.peerID)
	if !ok {
		entry.Unlock()
		return nil, nil, apperr.NewNotFound("peer")
	}
	return entry, sess, nil
}
