package ports

import (
	"context"
	"encoding/json"
	"time"

	"signalcore/internal/core/domain"
)

// Metrics is the observability sink for room/peer/producer/consumer
// counts, RPC outcomes, and emissions. A no-op implementation is used
// wherever metrics are not configured.
type Metrics interface {
	RoomCreated()
	RoomDestroyed()
	PeerJoined()
	PeerLeft()
	ProducerOpened()
	ProducerClosed()
	ConsumerOpened()
	ConsumerClosed()
	RecordRPC(method string, ok bool, duration time.Duration)
	RecordEmission(event string)
}

// WorkerPool exposes round-robin worker selection to the RoomRegistry.
// The pool itself decides when a worker death should trigger a fail-fast
// process exit; callers only ever see NextWorker fail.
type WorkerPool interface {
	NextWorker(ctx context.Context) (Worker, error)
	WorkerCount() int
	// ReportFailure records an engine call failure against workerID's
	// circuit breaker so NextWorker can route future Room creations away
	// from a worker that is currently failing its calls.
	ReportFailure(workerID domain.WorkerID)
}

// RoomHandle pairs a Room with its Router and the lock that linearizes
// every operation touching it; different Rooms proceed independently.
type RoomHandle interface {
	Room() *domain.Room
	Router() Router
	Lock()
	Unlock()
}

// RoomRegistry is the process-wide roomId -> Room mapping. GetOrCreate is
// idempotent: concurrent calls for the same roomId must produce exactly
// one Room.
type RoomRegistry interface {
	GetOrCreate(ctx context.Context, roomID domain.RoomID) (RoomHandle, error)
	Get(roomID domain.RoomID) (RoomHandle, bool)
	Delete(ctx context.Context, roomID domain.RoomID) error
	RoomIDs() []domain.RoomID
}

// Dispatcher is the request/response and event multiplexer sitting
// between the signaling transport and the core.
type Dispatcher interface {
	// HandleRequest processes one inbound RPC call for the peer identified
	// by ch.PeerID(); ack is invoked exactly once.
	HandleRequest(ctx context.Context, ch Channel, method string, args json.RawMessage, ack Ack)
	// HandleDisconnect runs Peer teardown for the given channel's peer,
	// if one exists.
	HandleDisconnect(ctx context.Context, ch Channel)
}
