package mediaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/pkg/optimize"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtpReadBufSize covers the largest RTP packet pion's transports produce
// (MTU-sized, well under the 1500-byte Ethernet frame).
const rtpReadBufSize = 1500

var rtpReadBufPool = optimize.NewBytePool(rtpReadBufSize)

// codecConfig mirrors pkg/config.MediaCodec: the input to Router
// creation, not the negotiated set.
type codecConfig struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mime_type"`
	ClockRate int    `json:"clock_rate"`
	Channels  int    `json:"channels,omitempty"`
}

// forwarder fans the RTP read off one Producer's remote track out to
// every Consumer subscribed to it, keyed by ProducerID at Room scope and
// split into per-Consumer local tracks so each Consumer can be paused
// independently.
type forwarder struct {
	kind          domain.Kind
	rtpParameters json.RawMessage

	mu      sync.Mutex
	remote  *webrtc.TrackRemote
	subs    map[domain.ConsumerID]*subscriberSink
	closeCh chan struct{}
}

type subscriberSink struct {
	track    *webrtc.TrackLocalStaticRTP
	paused   bool
	consumer *Consumer
}

// Router is the engine-level object tied to one Worker that multiplexes
// RTP among a Room's transports sharing a common codec set.
type Router struct {
	id     string
	worker *Worker
	log    *zap.SugaredLogger
	api    *webrtc.API
	codecs []codecConfig

	mu         sync.Mutex
	forwarders map[domain.ProducerID]*forwarder
	closed     bool
}

func newRouter(w *Worker, mediaCodecsJSON json.RawMessage) (*Router, error) {
	var codecs []codecConfig
	if err := json.Unmarshal(mediaCodecsJSON, &codecs); err != nil {
		return nil, fmt.Errorf("unmarshal router media codecs: %w", err)
	}

	me := &webrtc.MediaEngine{}
	for _, c := range codecs {
		capability := webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: uint32(c.ClockRate),
			Channels:  uint16(c.Channels),
		}
		var typ webrtc.RTPCodecType
		switch c.Kind {
		case "audio":
			typ = webrtc.RTPCodecTypeAudio
		case "video":
			typ = webrtc.RTPCodecTypeVideo
		default:
			continue
		}
		_ = me.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: capability}, typ)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(w.settingEngine))

	return &Router{
		id:         uuid.NewString(),
		worker:     w,
		log:        w.log,
		api:        api,
		codecs:     codecs,
		forwarders: make(map[domain.ProducerID]*forwarder),
	}, nil
}

func (r *Router) ID() string { return r.id }

// RtpCapabilities returns the codec set this Router advertises, as the
// client-facing routerRtpCapabilities payload of join-room. It reflects
// the configured codec list verbatim; payload type assignment and
// feedback mechanisms stay internal to the negotiation.
func (r *Router) RtpCapabilities() json.RawMessage {
	payload, _ := json.Marshal(map[string]interface{}{"codecs": r.codecs})
	return payload
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	return newTransport(ctx, r, opts)
}

// CanConsume answers whether producerID's kind is present among
// rtpCapabilities' advertised codecs. The probe is kind-level; exact
// payload-type/profile matching is settled later by the SDP exchange on
// the consuming transport.
func (r *Router) CanConsume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (bool, error) {
	r.mu.Lock()
	fw, ok := r.forwarders[producerID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	var caps struct {
		Codecs []struct {
			Kind string `json:"kind"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false, fmt.Errorf("unmarshal rtpCapabilities: %w", err)
	}
	for _, c := range caps.Codecs {
		if domain.Kind(c.Kind) == fw.kind {
			return true, nil
		}
	}
	return false, nil
}

func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// registerProducer adds a Producer's forwarder to the Room-wide table and
// starts the RTP fan-out loop reading its remote track.
func (r *Router) registerProducer(producerID domain.ProducerID, kind domain.Kind, rtpParameters json.RawMessage, remote *webrtc.TrackRemote) {
	fw := &forwarder{
		kind:          kind,
		rtpParameters: rtpParameters,
		remote:        remote,
		subs:          make(map[domain.ConsumerID]*subscriberSink),
		closeCh:       make(chan struct{}),
	}
	r.mu.Lock()
	r.forwarders[producerID] = fw
	r.mu.Unlock()

	go r.forwardLoop(producerID, fw)
}

func (r *Router) forwardLoop(producerID domain.ProducerID, fw *forwarder) {
	buf := rtpReadBufPool.Get()
	defer rtpReadBufPool.Put(buf)
	pkt := &rtp.Packet{}

	for {
		select {
		case <-fw.closeCh:
			return
		default:
		}

		n, _, err := fw.remote.Read(buf)
		if err != nil {
			r.log.Debugw("producer track read ended", "producer_id", producerID, "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		fw.mu.Lock()
		for consumerID, sink := range fw.subs {
			if sink.paused {
				continue
			}
			if err := sink.track.WriteRTP(pkt); err != nil {
				r.log.Debugw("consumer write failed", "consumer_id", consumerID, "error", err)
			}
		}
		fw.mu.Unlock()
	}
}

// removeProducer stops the forward loop, drops the forwarder entry, and
// fires producerclose on every subscribed Consumer; called when the
// owning Producer closes.
func (r *Router) removeProducer(producerID domain.ProducerID) {
	r.mu.Lock()
	fw, ok := r.forwarders[producerID]
	if ok {
		delete(r.forwarders, producerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(fw.closeCh)

	fw.mu.Lock()
	sinks := make([]*subscriberSink, 0, len(fw.subs))
	for _, sink := range fw.subs {
		sinks = append(sinks, sink)
	}
	fw.subs = make(map[domain.ConsumerID]*subscriberSink)
	fw.mu.Unlock()

	// Event delivery happens off the forwarder's lock: the handler tears
	// down core state and must not re-enter the engine under it.
	for _, sink := range sinks {
		if sink.consumer != nil {
			sink.consumer.fireProducerClose()
		}
	}
}

func (r *Router) withSink(producerID domain.ProducerID, consumerID domain.ConsumerID, fn func(*subscriberSink)) bool {
	r.mu.Lock()
	fw, ok := r.forwarders[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	sink, ok := fw.subs[consumerID]
	if !ok {
		return false
	}
	fn(sink)
	return true
}

func (r *Router) setConsumerPaused(producerID domain.ProducerID, consumerID domain.ConsumerID, paused bool) error {
	if !r.withSink(producerID, consumerID, func(s *subscriberSink) { s.paused = paused }) {
		return fmt.Errorf("consumer %s has no live sink on producer %s", consumerID, producerID)
	}
	return nil
}

func (r *Router) removeConsumer(producerID domain.ProducerID, consumerID domain.ConsumerID) {
	r.mu.Lock()
	fw, ok := r.forwarders[producerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	fw.mu.Lock()
	delete(fw.subs, consumerID)
	fw.mu.Unlock()
}
