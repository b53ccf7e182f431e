package mediaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

// qualityLogInterval paces the periodic RTCP quality dump per transport.
const qualityLogInterval = 30 * time.Second

// iceParams, dtlsParams and the sctp map are the JSON shapes carried
// verbatim to the client in the join-room transport descriptions. They
// are pulled out of pion's local SDP, since pion negotiates over SDP
// offer/answer instead of exposing discrete ICE/DTLS parameter structs.
type iceParams struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type fingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type dtlsParams struct {
	Role         string        `json:"role"`
	Fingerprints []fingerprint `json:"fingerprints"`
}

// cutSpace splits "sha-256 AB:CD:..." at its first space.
func cutSpace(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// Transport is the engine-side ICE/DTLS/SRTP session with one Peer,
// backed by one pion PeerConnection. Direction send transports are
// pre-wired with recvonly audio/video transceivers so the client can
// produce without a renegotiation round-trip; recv transports add local
// tracks (and renegotiate) lazily on Consume.
type Transport struct {
	id        domain.TransportID
	direction domain.Direction
	router    *Router
	pc        *webrtc.PeerConnection

	minOutgoingBitrate int

	mu             sync.Mutex
	events         ports.TransportEvents
	pendingProduce map[domain.Kind]chan *webrtc.TrackRemote
	producers      []*Producer
	consumers      []*Consumer
	closed         atomic.Bool
	done           chan struct{}

	quality qualityTracker

	iceParameters  json.RawMessage
	iceCandidates  json.RawMessage
	dtlsParameters json.RawMessage
	sctpParameters json.RawMessage
}

func newTransport(ctx context.Context, router *Router, opts ports.TransportOptions) (*Transport, error) {
	pc, err := router.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &Transport{
		id:             domain.TransportID(uuid.NewString()),
		direction:      opts.Direction,
		router:         router,
		pc:             pc,
		pendingProduce: make(map[domain.Kind]chan *webrtc.TrackRemote),
		done:           make(chan struct{}),
	}

	if opts.Direction == domain.DirectionSend {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
		pc.OnTrack(t.handleIncomingTrack)
	}

	pc.OnICEConnectionStateChange(t.handleICEStateChange)
	pc.OnConnectionStateChange(t.handleConnectionStateChange)

	if err := t.negotiateLocal(ctx); err != nil {
		pc.Close()
		return nil, err
	}

	go t.qualityLogLoop()

	return t, nil
}

func (t *Transport) qualityLogLoop() {
	ticker := time.NewTicker(qualityLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.logQuality(t.router.log)
		}
	}
}

func (t *Transport) handleIncomingTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	go t.readRTCPLoop(func() ([]rtcp.Packet, error) {
		packets, _, err := receiver.ReadRTCP()
		return packets, err
	}, "producer")

	kind := domain.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}

	t.mu.Lock()
	ch, ok := t.pendingProduce[kind]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- track:
		default:
		}
	}
}

func (t *Transport) handleICEStateChange(state webrtc.ICEConnectionState) {
	if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
		t.emitDtlsClosed()
	}
}

func (t *Transport) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		t.emitDtlsClosed()
	case webrtc.PeerConnectionStateClosed:
		t.emitTransportClose()
	}
}

// emitDtlsClosed fires the DTLS-state-closed callback. It tolerates being
// called more than once; the dispatcher's teardown path is already
// idempotent against a Peer that is gone. The handler takes the room's
// lock, so it never runs on pion's signaling goroutine.
func (t *Transport) emitDtlsClosed() {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events.OnDtlsStateChange != nil {
		go events.OnDtlsStateChange(domain.ConnectionStateClosed)
	}
}

// emitTransportClose fires the transport's close callback once the
// PeerConnection reaches closed, with the same goroutine discipline as
// emitDtlsClosed.
func (t *Transport) emitTransportClose() {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events.OnClose != nil {
		go events.OnClose()
	}
}

// negotiateLocal creates the local offer, waits for ICE gathering to
// complete, then extracts the parameter objects carried verbatim to the
// client.
func (t *Transport) negotiateLocal(ctx context.Context) error {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ice gathering timed out")
	}

	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(t.pc.LocalDescription().SDP)); err != nil {
		return fmt.Errorf("parse local description: %w", err)
	}

	ice := iceParams{}
	dtls := dtlsParams{Role: "auto"}
	sctp := map[string]interface{}{}
	var candidates []string

	collect := func(attrs []sdp.Attribute) {
		for _, a := range attrs {
			switch a.Key {
			case "ice-ufrag":
				ice.UsernameFragment = a.Value
			case "ice-pwd":
				ice.Password = a.Value
			case "candidate":
				candidates = append(candidates, "a=candidate:"+a.Value)
			case "fingerprint":
				alg, value, found := cutSpace(a.Value)
				if !found {
					continue
				}
				seen := false
				for _, f := range dtls.Fingerprints {
					if f.Value == value {
						seen = true
						break
					}
				}
				if !seen {
					dtls.Fingerprints = append(dtls.Fingerprints, fingerprint{Algorithm: alg, Value: value})
				}
			case "sctp-port":
				sctp["port"] = a.Value
			}
		}
	}
	collect(parsed.Attributes)
	for _, md := range parsed.MediaDescriptions {
		collect(md.Attributes)
	}

	iceJSON, _ := json.Marshal(ice)
	candidatesJSON, _ := json.Marshal(candidates)
	dtlsJSON, _ := json.Marshal(dtls)
	sctpJSON, _ := json.Marshal(sctp)

	t.mu.Lock()
	t.iceParameters = iceJSON
	t.iceCandidates = candidatesJSON
	t.dtlsParameters = dtlsJSON
	t.sctpParameters = sctpJSON
	t.mu.Unlock()

	return nil
}

func (t *Transport) ID() domain.TransportID         { return t.id }
func (t *Transport) IceParameters() json.RawMessage  { return t.iceParameters }
func (t *Transport) IceCandidates() json.RawMessage  { return t.iceCandidates }
func (t *Transport) DtlsParameters() json.RawMessage { return t.dtlsParameters }
func (t *Transport) SctpParameters() json.RawMessage { return t.sctpParameters }

// Connect sets the remote session description derived from
// dtlsParameters; idempotent when given the same parameters, since
// SetRemoteDescription with an identical SDP is a no-op.
func (t *Transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	var remote struct {
		Sdp  string `json:"sdp"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(dtlsParameters, &remote); err != nil || remote.Sdp == "" {
		return fmt.Errorf("dtlsParameters must carry the remote session description")
	}

	sdpType := webrtc.SDPTypeAnswer
	if remote.Type == "offer" {
		sdpType = webrtc.SDPTypeOffer
	}

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: remote.Sdp})
}

// Produce waits for the matching-kind track to arrive over this transport
// (it was already offered recvonly at creation) and registers it with the
// Router's forwarder table.
func (t *Transport) Produce(ctx context.Context, kind domain.Kind, rtpParameters json.RawMessage) (ports.Producer, error) {
	if t.direction != domain.DirectionSend {
		return nil, fmt.Errorf("transport %s is not a send transport", t.id)
	}

	ch := make(chan *webrtc.TrackRemote, 1)
	t.mu.Lock()
	t.pendingProduce[kind] = ch
	t.mu.Unlock()

	var remote *webrtc.TrackRemote
	select {
	case remote = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timed out waiting for %s track", kind)
	}

	producerID := domain.ProducerID(uuid.NewString())
	t.router.registerProducer(producerID, kind, rtpParameters, remote)

	producer := &Producer{id: producerID, kind: kind, rtpParameters: rtpParameters, router: t.router}
	t.mu.Lock()
	t.producers = append(t.producers, producer)
	t.mu.Unlock()

	return producer, nil
}

// Consume creates a local track fed by the source Producer's forwarder
// and adds it to this (recv-direction) transport's PeerConnection,
// renegotiating locally.
func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	if t.direction != domain.DirectionRecv {
		return nil, fmt.Errorf("transport %s is not a recv transport", t.id)
	}

	t.router.mu.Lock()
	fw, ok := t.router.forwarders[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}

	var capability webrtc.RTPCodecCapability
	for _, c := range t.router.codecs {
		if domain.Kind(c.Kind) == fw.kind {
			capability = webrtc.RTPCodecCapability{MimeType: c.MimeType, ClockRate: uint32(c.ClockRate), Channels: uint16(c.Channels)}
			break
		}
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(capability, string(producerID), "signalcore")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}

	sender, err := t.pc.AddTrack(localTrack)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	if err := t.negotiateLocal(ctx); err != nil {
		return nil, fmt.Errorf("renegotiate for consume: %w", err)
	}

	go t.readRTCPLoop(func() ([]rtcp.Packet, error) {
		packets, _, err := sender.ReadRTCP()
		return packets, err
	}, "consumer")

	consumer := &Consumer{
		id: domain.ConsumerID(uuid.NewString()), producerID: producerID, kind: fw.kind,
		rtpParameters: fw.rtpParameters, router: t.router,
	}

	fw.mu.Lock()
	fw.subs[consumer.id] = &subscriberSink{track: localTrack, paused: true, consumer: consumer}
	fw.mu.Unlock()

	t.mu.Lock()
	t.consumers = append(t.consumers, consumer)
	t.mu.Unlock()

	return consumer, nil
}

func (t *Transport) SetMinimumAvailableOutgoingBitrate(ctx context.Context, bps int) error {
	t.mu.Lock()
	t.minOutgoingBitrate = bps
	t.mu.Unlock()
	return nil
}

func (t *Transport) OnEvents(events ports.TransportEvents) {
	t.mu.Lock()
	t.events = events
	t.mu.Unlock()
}

// Close is idempotent: only the first call does any work and every later
// call returns nil at once. Closing cascades to every Producer and Consumer living on
// this transport, each of which fires its own transportclose event.
func (t *Transport) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	t.mu.Lock()
	producers := t.producers
	consumers := t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClosed()
	}
	for _, c := range consumers {
		c.transportClosed()
	}

	if err := t.pc.Close(); err != nil && err != webrtc.ErrConnectionClosed {
		return err
	}
	return nil
}
