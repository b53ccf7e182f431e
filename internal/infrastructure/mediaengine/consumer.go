package mediaengine

import (
	"context"
	"encoding/json"
	"sync"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
)

// Consumer is the engine-side handle for one outbound stream toward a
// Peer, created paused: its sink in the source Producer's forwarder drops
// packets until Resume flips it live.
type Consumer struct {
	id            domain.ConsumerID
	producerID    domain.ProducerID
	kind          domain.Kind
	rtpParameters json.RawMessage
	router        *Router

	mu     sync.Mutex
	events ports.ConsumerEvents
}

func (c *Consumer) ID() domain.ConsumerID          { return c.id }
func (c *Consumer) Kind() domain.Kind              { return c.kind }
func (c *Consumer) ProducerID() domain.ProducerID  { return c.producerID }
func (c *Consumer) RtpParameters() json.RawMessage { return c.rtpParameters }

func (c *Consumer) Resume(ctx context.Context) error {
	return c.router.setConsumerPaused(c.producerID, c.id, false)
}

func (c *Consumer) OnEvents(events ports.ConsumerEvents) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// fireProducerClose notifies the core that the source Producer is gone.
// The handler takes the room's lock, so it never runs on the caller's
// goroutine.
func (c *Consumer) fireProducerClose() {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events.OnProducerClose != nil {
		go events.OnProducerClose()
	}
}

// transportClosed cascades the owning transport's closure: detach the
// sink and fire transportclose off this goroutine.
func (c *Consumer) transportClosed() {
	c.router.removeConsumer(c.producerID, c.id)
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events.OnTransportClose != nil {
		go events.OnTransportClose()
	}
}

// Close detaches this Consumer's sink from the forwarder; idempotent, a
// second call finds no sink and does nothing.
func (c *Consumer) Close(ctx context.Context) error {
	c.router.removeConsumer(c.producerID, c.id)
	return nil
}
