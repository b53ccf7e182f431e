package mediaengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testCodecs = json.RawMessage(`[
	{"kind":"audio","mime_type":"audio/opus","clock_rate":48000,"channels":2},
	{"kind":"video","mime_type":"video/VP8","clock_rate":90000}
]`)

func newTestWorker(t *testing.T) *Worker {
	w, err := NewWorker(zaptest.NewLogger(t).Sugar(), "127.0.0.1", "", 0, 0)
	require.NoError(t, err)
	return w
}

func TestCreateRouter(t *testing.T) {
	w := newTestWorker(t)
	router, err := w.CreateRouter(context.Background(), testCodecs)
	require.NoError(t, err)
	assert.NotEmpty(t, router.ID())
}

func TestCreateRouter_MalformedCodecs(t *testing.T) {
	w := newTestWorker(t)
	_, err := w.CreateRouter(context.Background(), json.RawMessage(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestRtpCapabilities_ReflectConfiguredCodecs(t *testing.T) {
	w := newTestWorker(t)
	router, err := w.CreateRouter(context.Background(), testCodecs)
	require.NoError(t, err)

	var caps struct {
		Codecs []struct {
			Kind     string `json:"kind"`
			MimeType string `json:"mime_type"`
		} `json:"codecs"`
	}
	require.NoError(t, json.Unmarshal(router.RtpCapabilities(), &caps))
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
}

func TestCanConsume_UnknownProducer(t *testing.T) {
	w := newTestWorker(t)
	router, err := w.CreateRouter(context.Background(), testCodecs)
	require.NoError(t, err)

	ok, err := router.CanConsume(context.Background(), "missing", json.RawMessage(`{"codecs":[{"kind":"video"}]}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkerDeathSignal(t *testing.T) {
	w := newTestWorker(t)
	assert.False(t, w.Closed())
	w.MarkDead()
	assert.True(t, w.Closed())
}
