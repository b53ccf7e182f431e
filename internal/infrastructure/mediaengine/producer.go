package mediaengine

import (
	"context"
	"encoding/json"
	"sync"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
)

// Producer is the engine-side handle for one inbound media track. Its RTP
// is already flowing through the Router's forwarder by the time this
// handle is returned from Transport.Produce.
type Producer struct {
	id            domain.ProducerID
	kind          domain.Kind
	rtpParameters json.RawMessage
	router        *Router

	mu     sync.Mutex
	events ports.ProducerEvents
}

func (p *Producer) ID() domain.ProducerID          { return p.id }
func (p *Producer) Kind() domain.Kind              { return p.kind }
func (p *Producer) RtpParameters() json.RawMessage { return p.rtpParameters }

func (p *Producer) OnEvents(events ports.ProducerEvents) {
	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

// transportClosed cascades the owning transport's closure: stop the
// forward loop (closing subscribed Consumers with it) and fire
// transportclose. The handler takes the room's lock, so it never runs on
// the closing goroutine.
func (p *Producer) transportClosed() {
	p.router.removeProducer(p.id)
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events.OnTransportClose != nil {
		go events.OnTransportClose()
	}
}

// Close stops the forward loop feeding this Producer's Consumers and
// fires their producerclose events; idempotent since removeProducer is a
// no-op on a missing map entry.
func (p *Producer) Close(ctx context.Context) error {
	p.router.removeProducer(p.id)
	return nil
}
