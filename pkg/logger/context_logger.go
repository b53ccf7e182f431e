package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctxKey namespaces the values ContextLogger looks for so a plain
// context.WithValue(ctx, "room_id", ...) from unrelated code can't collide.
type ctxKey string

const (
	CtxTraceID ctxKey = "trace_id"
	CtxRoomID  ctxKey = "room_id"
	CtxPeerID  ctxKey = "peer_id"
)

// WithRoomPeer returns a context carrying roomID/peerID for ContextLogger
// to pick up, so a handler only has to attach them once instead of
// passing "room_id"/"peer_id" to every log call by hand.
func WithRoomPeer(ctx context.Context, roomID, peerID string) context.Context {
	ctx = context.WithValue(ctx, CtxRoomID, roomID)
	ctx = context.WithValue(ctx, CtxPeerID, peerID)
	return ctx
}

// ContextLogger provides context-aware logging: every call site that has a
// context carrying a Room/Peer id (via WithRoomPeer) or a trace id (stored
// under CtxTraceID) gets those attached to every log line without
// threading them through as explicit arguments. The trace id is read only
// from CtxTraceID; the OpenTelemetry span context is not consulted.
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if traceID := ctx.Value(CtxTraceID); traceID != nil {
		if id, ok := traceID.(string); ok {
			fields = append(fields, zap.String("trace_id", id))
		}
	}
	if roomID := ctx.Value(CtxRoomID); roomID != nil {
		if id, ok := roomID.(string); ok {
			fields = append(fields, zap.String("room_id", id))
		}
	}
	if peerID := ctx.Value(CtxPeerID); peerID != nil {
		if id, ok := peerID.(string); ok {
			fields = append(fields, zap.String("peer_id", id))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// WithFields adds custom fields to logger
func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.Logger {
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogRPC logs one signaling RPC call with its outcome.
func (cl *ContextLogger) LogRPC(ctx context.Context, method string, ok bool, durationMS int64) {
	logger := cl.WithContext(ctx)
	logger.Info("rpc_call",
		zap.String("method", method),
		zap.Bool("ok", ok),
		zap.Int64("duration_ms", durationMS),
	)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx).With(zap.Error(err))
	allFields := append(fields, zap.String("message", message))
	logger.Error("error_occurred", allFields...)
}

// LogInfo logs info message with context
func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx)
	logger.Info(message, fields...)
}

// LogDebug logs debug message with context
func (cl *ContextLogger) LogDebug(ctx context.Context, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx)
	logger.Debug(message, fields...)
}

// LogWarn logs warning message with context
func (cl *ContextLogger) LogWarn(ctx context.Context, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx)
	logger.Warn(message, fields...)
}

