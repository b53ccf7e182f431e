package services

import (
	"context"
	"encoding/json"
	"sync"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/pkg/apperr"
	"signalcore/pkg/tracing"

	"go.uber.org/zap"
)

// RoomEntry pairs a Room with the per-Room mutex the dispatcher holds
// whenever it reads or changes the Room's or a member Peer's state. The
// mutex is released around every media-engine call, so engine calls for
// peers of the same Room may interleave; reads and writes of the Room's
// state are linearized through this mutex while different Rooms proceed
// independently.
type RoomEntry struct {
	room     *domain.Room
	router   ports.Router
	sessions roomSessions
	mu       sync.Mutex
}

func (e *RoomEntry) Room() *domain.Room   { return e.room }
func (e *RoomEntry) Router() ports.Router { return e.router }
func (e *RoomEntry) Lock()                { e.mu.Lock() }
func (e *RoomEntry) Unlock()              { e.mu.Unlock() }

// creating is a placeholder held in the registry map while a Room is
// under construction, so a Room "exists" the moment creation starts and
// concurrent GetOrCreate calls for the same id converge on exactly one
// entry.
type creating struct {
	done chan struct{}
	// entry and err are set exactly once, before done is closed.
	entry *RoomEntry
	err   error
}

// RoomRegistry is the process-wide roomId -> Room mapping.
type RoomRegistry struct {
	log     *zap.SugaredLogger
	workers ports.WorkerPool
	codecs  json.RawMessage
	txOpts  ports.TransportOptions
	metrics ports.Metrics

	mu      sync.Mutex
	rooms   map[domain.RoomID]*RoomEntry
	pending map[domain.RoomID]*creating
}

func NewRoomRegistry(log *zap.SugaredLogger, workers ports.WorkerPool, mediaCodecs json.RawMessage, metrics ports.Metrics) *RoomRegistry {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &RoomRegistry{
		log:     log,
		workers: workers,
		codecs:  mediaCodecs,
		metrics: metrics,
		rooms:   make(map[domain.RoomID]*RoomEntry),
		pending: make(map[domain.RoomID]*creating),
	}
}

// GetOrCreate is idempotent: concurrent calls for the same roomId produce
// exactly one Room. It selects a worker, asks it to create a Router
// initialized with the configured codec set, then inserts the Room.
func (r *RoomRegistry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (ports.RoomHandle, error) {
	for {
		r.mu.Lock()
		if entry, ok := r.rooms[roomID]; ok {
			r.mu.Unlock()
			return entry, nil
		}
		if c, ok := r.pending[roomID]; ok {
			r.mu.Unlock()
			<-c.done
			if c.err != nil {
				return nil, c.err
			}
			return c.entry, nil
		}

		c := &creating{done: make(chan struct{})}
		r.pending[roomID] = c
		r.mu.Unlock()

		entry, err := r.create(ctx, roomID)

		r.mu.Lock()
		delete(r.pending, roomID)
		if err == nil {
			r.rooms[roomID] = entry
		}
		r.mu.Unlock()

		c.entry, c.err = entry, err
		close(c.done)

		if err != nil {
			return nil, err
		}
		return entry, nil
	}
}

func (r *RoomRegistry) create(ctx context.Context, roomID domain.RoomID) (*RoomEntry, error) {
	worker, err := r.workers.NextWorker(ctx)
	if err != nil {
		return nil, err
	}

	engineCtx, end := engineSpan(ctx, "create-router", tracing.RoomIDKey.String(string(roomID)))
	router, err := worker.CreateRouter(engineCtx, r.codecs)
	end(err)
	if err != nil {
		r.workers.ReportFailure(worker.ID())
		return nil, apperr.NewEngineFailed(err)
	}

	room := domain.NewRoom(roomID, worker.ID(), router.ID())
	r.log.Infow("room created", "room_id", roomID, "worker_id", worker.ID())
	r.metrics.RoomCreated()

	return &RoomEntry{room: room, router: router, sessions: make(roomSessions)}, nil
}

func (r *RoomRegistry) Get(roomID domain.RoomID) (ports.RoomHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	return entry, ok
}

// Delete closes the Room's Router and removes it from the registry.
// Callers must hold no further references and must not be holding the
// entry's own lock.
func (r *RoomRegistry) Delete(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.rooms, roomID)
	r.mu.Unlock()

	if err := entry.router.Close(ctx); err != nil {
		r.log.Warnw("router close failed during room deletion", "room_id", roomID, "error", err)
	}
	r.log.Infow("room destroyed", "room_id", roomID)
	r.metrics.RoomDestroyed()
	return nil
}

func (r *RoomRegistry) RoomIDs() []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}
