// Package mediaengine is the concrete media-plane backend: workers,
// routers, WebRTC transports, producers and consumers built on
// pion/webrtc. The core never imports this package directly; it only
// sees internal/core/ports.
package mediaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Worker is one long-lived media-engine worker slot. pion runs
// in-process rather than as separate worker OS processes, so Worker
// carries the webrtc.SettingEngine configured with this worker's slice
// of the rtcMinPort-rtcMaxPort range, and every Router it creates shares
// that setting engine.
type Worker struct {
	id          domain.WorkerID
	log         *zap.SugaredLogger
	announcedIP string

	settingEngine webrtc.SettingEngine
	closed        atomic.Bool
}

// NewWorker builds a worker bound to [minPort, maxPort] for ephemeral UDP
// allocation and listenIP/announcedIP for ICE candidate generation.
func NewWorker(log *zap.SugaredLogger, listenIP, announcedIP string, minPort, maxPort uint16) (*Worker, error) {
	se := webrtc.SettingEngine{}
	if minPort > 0 && maxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(minPort, maxPort); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if announcedIP != "" {
		se.SetNAT1To1IPs([]string{announcedIP}, webrtc.ICECandidateTypeHost)
	}

	return &Worker{
		id:            domain.WorkerID(uuid.NewString()),
		log:           log,
		announcedIP:   announcedIP,
		settingEngine: se,
	}, nil
}

func (w *Worker) ID() domain.WorkerID { return w.id }

// Closed reports whether this worker has died. WorkerPool polls it; pion
// workers run in-process and only "die" if explicitly marked so, e.g. by
// a health check detecting the process is shutting down.
func (w *Worker) Closed() bool { return w.closed.Load() }

// MarkDead flags the worker as dead, triggering the WorkerPool's
// fail-fast process exit on its next health poll.
func (w *Worker) MarkDead() { w.closed.Store(true) }

// CreateRouter builds a Router multiplexing the given codec set on a
// fresh pion API sharing this worker's SettingEngine.
func (w *Worker) CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (ports.Router, error) {
	return newRouter(w, mediaCodecs)
}
