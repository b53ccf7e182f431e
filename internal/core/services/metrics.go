package services

import (
	"time"

	"signalcore/internal/core/ports"
)

// NoopMetrics satisfies ports.Metrics when no collector is configured, so
// every call site in the dispatcher and registry can call through the
// interface unconditionally instead of nil-checking it everywhere.
type NoopMetrics struct{}

func (NoopMetrics) RoomCreated()                                      {}
func (NoopMetrics) RoomDestroyed()                                    {}
func (NoopMetrics) PeerJoined()                                       {}
func (NoopMetrics) PeerLeft()                                         {}
func (NoopMetrics) ProducerOpened()                                   {}
func (NoopMetrics) ProducerClosed()                                   {}
func (NoopMetrics) ConsumerOpened()                                   {}
func (NoopMetrics) ConsumerClosed()                                   {}
func (NoopMetrics) RecordRPC(string, bool, time.Duration)             {}
func (NoopMetrics) RecordEmission(string)                             {}

var _ ports.Metrics = NoopMetrics{}
