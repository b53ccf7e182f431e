// Package adminhttp is the operator-facing HTTP surface: health, metrics,
// and a read-only view into the Room Registry. It is deliberately not the
// signaling transport; nothing here can mutate room or peer state.
package adminhttp

import (
	"net/http"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	rooms   ports.RoomRegistry
	workers ports.WorkerPool
	health  *monitoring.HealthChecker
	log     *zap.SugaredLogger
}

func NewServer(rooms ports.RoomRegistry, workers ports.WorkerPool, health *monitoring.HealthChecker, log *zap.SugaredLogger) *Server {
	return &Server{rooms: rooms, workers: workers, health: health, log: log}
}

func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", s.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/rooms", s.ListRooms)
	router.GET("/rooms/:id", s.GetRoom)
}

func (s *Server) Healthz(c *gin.Context) {
	status := s.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

type roomSummary struct {
	ID        domain.RoomID `json:"id"`
	PeerCount int           `json:"peerCount"`
}

func (s *Server) ListRooms(c *gin.Context) {
	ids := s.rooms.RoomIDs()
	summaries := make([]roomSummary, 0, len(ids))
	for _, id := range ids {
		handle, ok := s.rooms.Get(id)
		if !ok {
			continue
		}
		handle.Lock()
		summaries = append(summaries, roomSummary{ID: id, PeerCount: len(handle.Room().Peers)})
		handle.Unlock()
	}
	c.JSON(http.StatusOK, gin.H{"rooms": summaries, "workerCount": s.workers.WorkerCount()})
}

type peerSummary struct {
	ID        domain.PeerID    `json:"id"`
	State     domain.PeerState `json:"state"`
	Producers int              `json:"producers"`
	Consumers int              `json:"consumers"`
}

func (s *Server) GetRoom(c *gin.Context) {
	handle, ok := s.rooms.Get(domain.RoomID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	handle.Lock()
	room := handle.Room()
	peers := make([]peerSummary, 0, len(room.Peers))
	for _, p := range room.Peers {
		peers = append(peers, peerSummary{
			ID:        p.ID,
			State:     p.State,
			Producers: len(p.Producers),
			Consumers: len(p.Consumers),
		})
	}
	id, workerID := room.ID, room.WorkerID
	handle.Unlock()

	c.JSON(http.StatusOK, gin.H{"id": id, "workerId": workerID, "peers": peers})
}
