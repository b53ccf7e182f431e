package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/pkg/apperr"
	"signalcore/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// deathGrace is the interval the pool waits after detecting a dead worker
// before scheduling process exit, long enough for a supervisor to observe
// the process and restart it.
const deathGrace = 2 * time.Second

// WorkerPool owns N long-lived media-engine workers and exposes
// round-robin selection. Worker death is fatal to the process; the pool
// never attempts in-place recovery because media workers carry
// non-reconstructible RTP state.
type WorkerPool struct {
	log     *zap.SugaredLogger
	workers []ports.Worker
	next    uint64

	mu       sync.Mutex
	breakers map[domain.WorkerID]*circuitbreaker.CircuitBreaker

	onFatal func(err error)

	watchOnce sync.Once
	stopCh    chan struct{}
}

func NewWorkerPool(log *zap.SugaredLogger, workers []ports.Worker, onFatal func(err error)) *WorkerPool {
	breakers := make(map[domain.WorkerID]*circuitbreaker.CircuitBreaker, len(workers))
	for _, w := range workers {
		breakers[w.ID()] = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	return &WorkerPool{
		log:      log,
		workers:  workers,
		breakers: breakers,
		onFatal:  onFatal,
		stopCh:   make(chan struct{}),
	}
}

func (p *WorkerPool) WorkerCount() int {
	return len(p.workers)
}

// NextWorker returns the next worker in round-robin order, skipping any
// worker whose circuit breaker is currently open because its recent
// engine calls have been failing.
func (p *WorkerPool) NextWorker(ctx context.Context) (ports.Worker, error) {
	if len(p.workers) == 0 {
		// an empty pool is as unrecoverable as worker death: trigger the
		// fail-fast exit path, not just a client-visible error
		err := apperr.New(apperr.Fatal, "worker pool has no workers")
		if p.onFatal != nil {
			p.onFatal(err)
		}
		return nil, err
	}

	n := uint64(len(p.workers))
	for i := uint64(0); i < n; i++ {
		idx := (atomic.AddUint64(&p.next, 1) - 1) % n
		w := p.workers[idx]
		if w.Closed() {
			continue
		}
		if p.breakerFor(w.ID()).GetState() == circuitbreaker.StateOpen {
			continue
		}
		return w, nil
	}
	return nil, apperr.New(apperr.EngineFailed, "no healthy worker available")
}

// ReportFailure records an engine call failure against workerID's circuit
// breaker. This is a routing health signal only, distinct from the
// Closed()/death signal which is fatal.
func (p *WorkerPool) ReportFailure(workerID domain.WorkerID) {
	p.breakerFor(workerID).Execute(context.Background(), func() error {
		return apperr.New(apperr.EngineFailed, "reported failure")
	})
}

func (p *WorkerPool) breakerFor(workerID domain.WorkerID) *circuitbreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[workerID]
	if !ok {
		cb = circuitbreaker.New(circuitbreaker.DefaultConfig())
		p.breakers[workerID] = cb
	}
	return cb
}

// WatchHealth polls each worker for death and schedules a fail-fast
// process exit if any has died. It is safe to call once; subsequent calls
// are no-ops.
func (p *WorkerPool) WatchHealth(ctx context.Context, pollInterval time.Duration) {
	p.watchOnce.Do(func() {
		go p.watchLoop(ctx, pollInterval)
	})
}

func (p *WorkerPool) watchLoop(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			for _, w := range p.workers {
				if w.Closed() {
					p.log.Errorw("media-engine worker died, scheduling process exit", "worker_id", w.ID())
					time.AfterFunc(deathGrace, func() {
						if p.onFatal != nil {
							p.onFatal(apperr.New(apperr.Fatal, "worker "+string(w.ID())+" died"))
						}
					})
					return
				}
			}
		}
	}
}

func (p *WorkerPool) Stop() {
	close(p.stopCh)
}
