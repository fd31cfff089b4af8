package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProviderExports(t *testing.T) {
	var requests atomic.Int32
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			requests.Add(1)
			auth.Store(r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tp, shutdown, err := NewTracerProvider(context.Background(), server.URL, "token", "quizbot-test", "dev")
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "cache.load")
	span.End()
	shutdown()

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, "Bearer token", auth.Load())
}

func TestNewTracerProviderWithoutEndpoint(t *testing.T) {
	tp, shutdown, err := NewTracerProvider(context.Background(), "", "", "quizbot-test", "dev")
	require.NoError(t, err)
	defer shutdown()
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestNewTracerProviderBadEndpoint(t *testing.T) {
	_, _, err := NewTracerProvider(context.Background(), "collector:4318", "", "quizbot-test", "dev")
	assert.Error(t, err)
}
