package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signalcore/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// echoDispatcher acks every request with its method name and records
// disconnects, so the tests can drive the wire protocol without the core.
type echoDispatcher struct {
	mu            sync.Mutex
	requests      []string
	disconnects   int
	lastChannel   ports.Channel
	failWithError string
}

func (d *echoDispatcher) HandleRequest(ctx context.Context, ch ports.Channel, method string, args json.RawMessage, ack ports.Ack) {
	d.mu.Lock()
	d.requests = append(d.requests, method)
	d.lastChannel = ch
	fail := d.failWithError
	d.mu.Unlock()

	if fail != "" {
		ack(nil, fail)
		return
	}
	payload, _ := json.Marshal(map[string]string{"method": method})
	ack(payload, "")
}

func (d *echoDispatcher) HandleDisconnect(ctx context.Context, ch ports.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
}

func (d *echoDispatcher) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *echoDispatcher) {
	dispatcher := &echoDispatcher{}
	srv := NewServer(dispatcher, opts, zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	return ts, dispatcher
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRequestResponseRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	conn := dial(t, ts, "peerId=a")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "request",
		"id":     "1",
		"method": "join-room",
		"args":   map[string]string{"roomId": "r1", "peerId": "a"},
	}))

	var reply struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "response", reply.Type)
	assert.Equal(t, "1", reply.ID)
	assert.Empty(t, reply.Error)
	assert.JSONEq(t, `{"method":"join-room"}`, string(reply.Result))
}

func TestErrorAckCarriesErrorString(t *testing.T) {
	ts, dispatcher := newTestServer(t, Options{})
	dispatcher.failWithError = "NOT_FOUND: transport not found"
	conn := dial(t, ts, "peerId=a")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "request", "id": "7", "method": "connect-transport",
	}))

	var reply struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "7", reply.ID)
	assert.Contains(t, reply.Error, "not found")
}

func TestMissingPeerIDRejected(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisconnectTriggersTeardown(t *testing.T) {
	ts, dispatcher := newTestServer(t, Options{})
	conn := dial(t, ts, "peerId=a")
	conn.Close()

	require.Eventually(t, func() bool {
		return dispatcher.disconnectCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventEmission(t *testing.T) {
	ts, dispatcher := newTestServer(t, Options{})
	conn := dial(t, ts, "peerId=a")

	// one request so the server records the channel handle
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "request", "id": "1", "method": "get-producers",
	}))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))

	dispatcher.mu.Lock()
	ch := dispatcher.lastChannel
	dispatcher.mu.Unlock()
	require.NotNil(t, ch)
	ch.Emit("peer-joined", json.RawMessage(`{"peerId":"b"}`))

	var event struct {
		Type    string          `json:"type"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "event", event.Type)
	assert.Equal(t, "peer-joined", event.Event)
	assert.JSONEq(t, `{"peerId":"b"}`, string(event.Payload))
}

func TestJWTValidation(t *testing.T) {
	secret := "test-secret"
	ts, _ := newTestServer(t, Options{JWTSecret: secret})

	// no token refused before upgrade
	resp, err := http.Get(ts.URL + "?peerId=a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// garbage token refused
	resp, err = http.Get(ts.URL + "?peerId=a&token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// well-formed signed token accepted
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "a"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	conn := dial(t, ts, "peerId=a&token="+signed)
	conn.Close()
}

func TestRateLimitRejectsFlood(t *testing.T) {
	ts, _ := newTestServer(t, Options{
		RateLimitEnabled:  true,
		MessagesPerSecond: 1,
		Burst:             2,
	})
	conn := dial(t, ts, "peerId=a")

	sawLimit := false
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type": "request", "id": "x", "method": "get-producers",
		}))
		var reply struct {
			Error string `json:"error"`
		}
		require.NoError(t, conn.ReadJSON(&reply))
		if strings.Contains(reply.Error, "rate limit") {
			sawLimit = true
			break
		}
	}
	assert.True(t, sawLimit, "flood past the burst must be rejected")
}

func TestNonRequestFramesIgnored(t *testing.T) {
	ts, dispatcher := newTestServer(t, Options{})
	conn := dial(t, ts, "peerId=a")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "request", "id": "1", "method": "get-producers",
	}))

	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Equal(t, []string{"get-producers"}, dispatcher.requests)
}
