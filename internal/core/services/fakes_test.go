package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
)

// seqRecorder is a process-order log shared by the fakes so tests can
// assert cross-object ordering (ack before emission, closes in teardown
// order) without sleeping.
type seqRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (s *seqRecorder) add(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *seqRecorder) index(entry string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

func (s *seqRecorder) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// --- channel ------------------------------------------------------------

type emittedEvent struct {
	Event   string
	Payload json.RawMessage
}

type fakeChannel struct {
	peerID      string
	seq         *seqRecorder
	panicOnEmit bool

	mu     sync.Mutex
	events []emittedEvent
	closed bool
}

func newFakeChannel(peerID string, seq *seqRecorder) *fakeChannel {
	return &fakeChannel{peerID: peerID, seq: seq}
}

func (c *fakeChannel) PeerID() string { return c.peerID }

func (c *fakeChannel) Emit(event string, payload json.RawMessage) {
	if c.panicOnEmit {
		panic("emit failed")
	}
	c.mu.Lock()
	c.events = append(c.events, emittedEvent{Event: event, Payload: payload})
	c.mu.Unlock()
	if c.seq != nil {
		c.seq.add("emit:" + event + ":" + c.peerID)
	}
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) received(event string) []emittedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emittedEvent
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// --- engine -------------------------------------------------------------

type fakeWorker struct {
	id     domain.WorkerID
	router *fakeRouter
	dead   bool

	createRouterErr error
	routersCreated  int
}

func (w *fakeWorker) ID() domain.WorkerID { return w.id }
func (w *fakeWorker) Closed() bool        { return w.dead }

func (w *fakeWorker) CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (ports.Router, error) {
	if w.createRouterErr != nil {
		return nil, w.createRouterErr
	}
	w.routersCreated++
	if w.router != nil {
		return w.router, nil
	}
	return newFakeRouter(w.id, nil), nil
}

type fakeRouter struct {
	id  string
	seq *seqRecorder

	mu         sync.Mutex
	transports []*fakeTransport
	nextID     int
	closed     bool

	canConsume         bool
	canConsumeErr      error
	createTransportErr error
}

func newFakeRouter(worker domain.WorkerID, seq *seqRecorder) *fakeRouter {
	return &fakeRouter{id: "router-" + string(worker), seq: seq, canConsume: true}
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) RtpCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio"},{"kind":"video"}]}`)
}

func (r *fakeRouter) CreateWebRtcTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	if r.createTransportErr != nil {
		return nil, r.createTransportErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tx := &fakeTransport{
		id:        domain.TransportID(fmt.Sprintf("transport-%d", r.nextID)),
		direction: opts.Direction,
		router:    r,
		seq:       r.seq,
	}
	r.transports = append(r.transports, tx)
	return tx, nil
}

func (r *fakeRouter) CanConsume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (bool, error) {
	return r.canConsume, r.canConsumeErr
}

func (r *fakeRouter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.seq != nil {
		r.seq.add("close:router")
	}
	return nil
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeTransport struct {
	id        domain.TransportID
	direction domain.Direction
	router    *fakeRouter
	seq       *seqRecorder

	mu            sync.Mutex
	events        ports.TransportEvents
	connectedWith json.RawMessage
	connectCalls  int
	minBitrate    int
	closed        bool
	nextResource  int

	connectErr error
	produceErr error
	consumeErr error
}

func (t *fakeTransport) ID() domain.TransportID          { return t.id }
func (t *fakeTransport) IceParameters() json.RawMessage  { return json.RawMessage(`{"usernameFragment":"uf","password":"pw"}`) }
func (t *fakeTransport) IceCandidates() json.RawMessage  { return json.RawMessage(`[]`) }
func (t *fakeTransport) DtlsParameters() json.RawMessage { return json.RawMessage(`{"role":"auto"}`) }
func (t *fakeTransport) SctpParameters() json.RawMessage { return json.RawMessage(`{}`) }

func (t *fakeTransport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connectCalls++
	t.connectedWith = dtlsParameters
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind domain.Kind, rtpParameters json.RawMessage) (ports.Producer, error) {
	if t.produceErr != nil {
		return nil, t.produceErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextResource++
	return &fakeProducer{
		id:            domain.ProducerID(fmt.Sprintf("%s-producer-%d", t.id, t.nextResource)),
		kind:          kind,
		rtpParameters: rtpParameters,
		seq:           t.seq,
	}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	if t.consumeErr != nil {
		return nil, t.consumeErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextResource++
	return &fakeConsumer{
		id:            domain.ConsumerID(fmt.Sprintf("%s-consumer-%d", t.id, t.nextResource)),
		producerID:    producerID,
		kind:          domain.KindVideo,
		rtpParameters: json.RawMessage(`{"codecs":[]}`),
		seq:           t.seq,
	}, nil
}

func (t *fakeTransport) SetMinimumAvailableOutgoingBitrate(ctx context.Context, bps int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minBitrate = bps
	return nil
}

func (t *fakeTransport) OnEvents(events ports.TransportEvents) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = events
}

func (t *fakeTransport) fireClose() {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events.OnClose != nil {
		events.OnClose()
	}
}

func (t *fakeTransport) fireDtlsClosed() {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events.OnDtlsStateChange != nil {
		events.OnDtlsStateChange(domain.ConnectionStateClosed)
	}
}

func (t *fakeTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.seq != nil {
		t.seq.add("close:transport:" + string(t.id))
	}
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProducer struct {
	id            domain.ProducerID
	kind          domain.Kind
	rtpParameters json.RawMessage
	seq           *seqRecorder

	mu     sync.Mutex
	events ports.ProducerEvents
	closed bool
}

func (p *fakeProducer) ID() domain.ProducerID          { return p.id }
func (p *fakeProducer) Kind() domain.Kind              { return p.kind }
func (p *fakeProducer) RtpParameters() json.RawMessage { return p.rtpParameters }

func (p *fakeProducer) OnEvents(events ports.ProducerEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
}

func (p *fakeProducer) fireTransportClose() {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events.OnTransportClose != nil {
		events.OnTransportClose()
	}
}

func (p *fakeProducer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.seq != nil {
		p.seq.add("close:producer:" + string(p.id))
	}
	return nil
}

type fakeConsumer struct {
	id            domain.ConsumerID
	producerID    domain.ProducerID
	kind          domain.Kind
	rtpParameters json.RawMessage
	seq           *seqRecorder

	mu      sync.Mutex
	events  ports.ConsumerEvents
	resumed bool
	closed  bool

	resumeErr error
}

func (c *fakeConsumer) ID() domain.ConsumerID          { return c.id }
func (c *fakeConsumer) Kind() domain.Kind              { return c.kind }
func (c *fakeConsumer) ProducerID() domain.ProducerID  { return c.producerID }
func (c *fakeConsumer) RtpParameters() json.RawMessage { return c.rtpParameters }

func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeErr != nil {
		return c.resumeErr
	}
	c.resumed = true
	return nil
}

func (c *fakeConsumer) OnEvents(events ports.ConsumerEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

func (c *fakeConsumer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.seq != nil {
		c.seq.add("close:consumer:" + string(c.id))
	}
	return nil
}
