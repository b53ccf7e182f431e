package ports

import (
	"context"
	"encoding/json"

	"signalcore/internal/core/domain"
)

// Worker is one long-lived media-engine worker process as owned by the
// WorkerPool. The core never talks to a worker process directly beyond
// asking it to create a Router.
type Worker interface {
	ID() domain.WorkerID
	CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (Router, error)
	// Closed reports whether the worker process has died; the WorkerPool
	// polls this to decide whether to schedule a fail-fast process exit.
	Closed() bool
}

// TransportEvents is the set of engine-originated callbacks the core
// subscribes to for a given Transport. Handlers must be idempotent and
// must tolerate firing after the owning Peer has already been torn down.
type TransportEvents struct {
	OnDtlsStateChange func(state domain.ConnectionState)
	OnClose           func()
}

// ProducerEvents/ConsumerEvents mirror TransportEvents for the
// transportclose and producerclose cascades.
type ProducerEvents struct {
	OnTransportClose func()
}

type ConsumerEvents struct {
	OnTransportClose func()
	OnProducerClose  func()
}

// TransportOptions configures a new WebRTC transport at creation time:
// enableUdp, enableTcp, preferUdp, plus the initial outgoing bitrate
// budget.
type TransportOptions struct {
	Direction                       domain.Direction
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	InitialAvailableOutgoingBitrate int
}

// Router is an engine-level object tied to one worker process that
// multiplexes RTP among transports sharing a common codec set; one per
// Room.
type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	// CanConsume answers the canConsume probe of the consume handler: can
	// the engine deliver producerId's stream to a peer reporting
	// rtpCapabilities.
	CanConsume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (bool, error)
	Close(ctx context.Context) error
}

// Transport is the engine-side counterpart of domain.Transport: the actual
// ICE/DTLS/SCTP session object as exposed by the media engine.
type Transport interface {
	ID() domain.TransportID
	IceParameters() json.RawMessage
	IceCandidates() json.RawMessage
	DtlsParameters() json.RawMessage
	SctpParameters() json.RawMessage

	// Connect sets the remote DTLS parameters exactly once; idempotent at
	// the engine level when given the same parameters.
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error

	Produce(ctx context.Context, kind domain.Kind, rtpParameters json.RawMessage) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (Consumer, error)

	SetMinimumAvailableOutgoingBitrate(ctx context.Context, bps int) error

	OnEvents(events TransportEvents)
	Close(ctx context.Context) error
}

// Producer is the engine-side handle created by Transport.Produce.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.Kind
	RtpParameters() json.RawMessage
	OnEvents(events ProducerEvents)
	Close(ctx context.Context) error
}

// Consumer is the engine-side handle created by Transport.Consume. It is
// created paused; Resume must be called to begin delivering media.
type Consumer interface {
	ID() domain.ConsumerID
	Kind() domain.Kind
	ProducerID() domain.ProducerID
	RtpParameters() json.RawMessage
	Resume(ctx context.Context) error
	OnEvents(events ConsumerEvents)
	Close(ctx context.Context) error
}
