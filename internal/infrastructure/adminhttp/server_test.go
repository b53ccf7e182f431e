package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalcore/internal/core/domain"
	"signalcore/internal/core/ports"
	"signalcore/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubHandle struct {
	room *domain.Room
}

func (h *stubHandle) Room() *domain.Room  { return h.room }
func (h *stubHandle) Router() ports.Router { return nil }
func (h *stubHandle) Lock()               {}
func (h *stubHandle) Unlock()             {}

type stubRegistry struct {
	rooms map[domain.RoomID]*stubHandle
}

func (r *stubRegistry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (ports.RoomHandle, error) {
	return nil, nil
}

func (r *stubRegistry) Get(roomID domain.RoomID) (ports.RoomHandle, bool) {
	h, ok := r.rooms[roomID]
	return h, ok
}

func (r *stubRegistry) Delete(ctx context.Context, roomID domain.RoomID) error { return nil }

func (r *stubRegistry) RoomIDs() []domain.RoomID {
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

type stubPool struct{ n int }

func (p *stubPool) NextWorker(ctx context.Context) (ports.Worker, error) { return nil, nil }
func (p *stubPool) WorkerCount() int                                     { return p.n }
func (p *stubPool) ReportFailure(domain.WorkerID)                        {}

func newTestRouter(t *testing.T, registry ports.RoomRegistry, healthy bool) *gin.Engine {
	health := monitoring.NewHealthChecker()
	health.AddCheck("workers", func(ctx context.Context) (bool, error) {
		return healthy, nil
	}, time.Minute, time.Second)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewServer(registry, &stubPool{n: 2}, health, zaptest.NewLogger(t).Sugar()).SetupRoutes(router)
	return router
}

func seededRegistry() *stubRegistry {
	room := domain.NewRoom("r1", "w1", "router-1")
	peer := domain.NewPeer("a", "r1")
	peer.State = domain.PeerStateProducing
	peer.Producers["p1"] = &domain.Producer{ID: "p1", PeerID: "a", Kind: domain.KindVideo}
	room.Peers["a"] = peer
	return &stubRegistry{rooms: map[domain.RoomID]*stubHandle{"r1": {room: room}}}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, seededRegistry(), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var status monitoring.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHealthz_Unhealthy(t *testing.T) {
	router := newTestRouter(t, seededRegistry(), false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListRooms(t *testing.T) {
	router := newTestRouter(t, seededRegistry(), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []struct {
			ID        string `json:"id"`
			PeerCount int    `json:"peerCount"`
		} `json:"rooms"`
		WorkerCount int `json:"workerCount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "r1", body.Rooms[0].ID)
	assert.Equal(t, 1, body.Rooms[0].PeerCount)
	assert.Equal(t, 2, body.WorkerCount)
}

func TestGetRoom(t *testing.T) {
	router := newTestRouter(t, seededRegistry(), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/r1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ID    string `json:"id"`
		Peers []struct {
			ID        string `json:"id"`
			State     string `json:"state"`
			Producers int    `json:"producers"`
		} `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "r1", body.ID)
	require.Len(t, body.Peers, 1)
	assert.Equal(t, "a", body.Peers[0].ID)
	assert.Equal(t, "producing", body.Peers[0].State)
	assert.Equal(t, 1, body.Peers[0].Producers)
}

func TestGetRoom_NotFound(t *testing.T) {
	router := newTestRouter(t, seededRegistry(), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
