// Package signal is the concrete signaling transport: a bidirectional
// WebSocket channel carrying typed request/acknowledgment RPC and
// server-pushed events. The core never sees the wire framing; it talks
// to ports.Channel and ports.Dispatcher only.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"signalcore/internal/core/ports"
	"signalcore/pkg/apperr"
	"signalcore/pkg/logger"
	"signalcore/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is handled by the fronting proxy, not here
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientEnvelope is one inbound frame: either an RPC request or, in
// principle, a raw ping; the server only recognizes "request".
type clientEnvelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// serverEnvelope is one outbound frame: either the acknowledgment of a
// request ("response") or a server-originated emission ("event").
type serverEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options configures connection-level timeouts and limits, sourced from
// pkg/config's Signal and RateLimiting sections.
type Options struct {
	PingInterval        time.Duration
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	EngineCallTimeout   time.Duration
	MaxMessageSizeBytes int64

	RateLimitEnabled        bool
	MessagesPerSecond       float64
	Burst                   int

	// JWTSecret, if non-empty, is used to validate the opaque identity
	// token presented as the "token" query parameter. The server only
	// checks the token is well-formed, HS256-signed and, where it carries
	// exp/nbf claims, within its validity window; it never inspects it
	// for authorization decisions.
	JWTSecret string
}

// Server upgrades HTTP connections to WebSocket and forwards every inbound
// RPC call to a ports.Dispatcher, translating the wire envelope on the way
// in and out. It holds no room/peer state of its own.
type Server struct {
	dispatcher ports.Dispatcher
	opts       Options
	log        *zap.SugaredLogger
	ctxLog     *logger.ContextLogger
}

func NewServer(dispatcher ports.Dispatcher, opts Options, log *zap.SugaredLogger) *Server {
	return &Server{dispatcher: dispatcher, opts: opts, log: log, ctxLog: logger.NewContextLogger(log.Desugar())}
}

// channel is the ports.Channel implementation for one WebSocket
// connection. Writes are serialized through send, since gorilla's
// *websocket.Conn forbids concurrent writers; Emit and the request
// handling loop both go through it.
type channel struct {
	peerID string
	conn   *websocket.Conn
	log    *zap.SugaredLogger

	send     chan serverEnvelope
	closedCh chan struct{}
	closeOnce sync.Once
}

func (c *channel) PeerID() string { return c.peerID }

// Emit is the non-blocking, best-effort event push: a full send buffer or
// a closed channel drops the event rather than blocking the caller or
// propagating an error.
func (c *channel) Emit(event string, payload json.RawMessage) {
	select {
	case c.send <- serverEnvelope{Type: "event", Event: event, Payload: payload}:
	case <-c.closedCh:
	default:
		c.log.Warnw("dropping event, send buffer full", "peer_id", c.peerID, "event", event)
	}
}

func (c *channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		_ = c.conn.Close()
	})
}

func (c *channel) reply(id string, result json.RawMessage, errMsg string) {
	env := serverEnvelope{Type: "response", ID: id, Result: result, Error: errMsg}
	select {
	case c.send <- env:
	case <-c.closedCh:
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if !s.opts.RateLimitEnabled {
		return nil
	}
	return rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
}

// HandleWebSocket is the HTTP handler mounted at the signaling endpoint.
// It upgrades the connection, builds the ports.Channel, and runs the
// connection's read/write loop until disconnect, at which point it
// invokes Dispatcher.HandleDisconnect to tear the peer down.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peerId")
	if peerID == "" {
		http.Error(w, "missing peerId query parameter", http.StatusBadRequest)
		return
	}
	if !s.validateToken(r.URL.Query().Get("token")) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("websocket upgrade failed", "peer_id", peerID, "error", err)
		return
	}

	if s.opts.MaxMessageSizeBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSizeBytes)
	}

	ch := &channel{
		peerID:   peerID,
		conn:     conn,
		log:      s.log,
		send:     make(chan serverEnvelope, 64),
		closedCh: make(chan struct{}),
	}
	defer ch.Close()

	pongTimeout := s.opts.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ch)
	}()

	s.readLoop(ch)

	ch.Close()
	wg.Wait()

	s.dispatcher.HandleDisconnect(context.Background(), ch)
	s.log.Infow("peer disconnected", "peer_id", peerID)
}

// writePump is the connection's single writer goroutine: every outbound
// frame, whether a response or an event, flows through ch.send so the
// underlying *websocket.Conn never sees concurrent WriteJSON calls.
func (s *Server) writePump(ch *channel) {
	pingInterval := s.opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := s.opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-ch.send:
			if !ok {
				return
			}
			ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ch.conn.WriteJSON(env); err != nil {
				s.log.Infow("write failed, closing connection", "peer_id", ch.peerID, "error", err)
				ch.Close()
				return
			}
		case <-ticker.C:
			ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ch.Close()
				return
			}
		case <-ch.closedCh:
			return
		}
	}
}

// readLoop reads inbound frames and dispatches each "request" to the
// Dispatcher. Within one connection requests are processed strictly in
// arrival order since this loop is the only reader.
func (s *Server) readLoop(ch *channel) {
	limiter := s.newLimiter()

	for {
		var env clientEnvelope
		if err := ch.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Infow("unexpected close reading from peer", "peer_id", ch.peerID, "error", err)
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			ch.reply(env.ID, nil, apperr.NewArgumentInvalid("rate limit exceeded").Error())
			continue
		}

		if env.Type != "request" {
			continue
		}

		callCtx := logger.WithRoomPeer(context.Background(), "", ch.peerID)
		cancel := func() {}
		if s.opts.EngineCallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(callCtx, s.opts.EngineCallTimeout)
		}

		id, method, start := env.ID, env.Method, time.Now()
		spanCtx, span := tracing.TraceRPC(callCtx, method, ch.peerID)
		s.dispatcher.HandleRequest(spanCtx, ch, method, env.Args, func(result json.RawMessage, errMsg string) {
			ch.reply(id, result, errMsg)
			if errMsg != "" {
				tracing.RecordError(spanCtx, errors.New(errMsg))
			}
			tracing.MeasureDuration(spanCtx, start, method)
			s.ctxLog.LogRPC(spanCtx, method, errMsg == "", time.Since(start).Milliseconds())
		})
		span.End()
		cancel()
	}
}
