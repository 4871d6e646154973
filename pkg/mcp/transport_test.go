package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTransportRejectsUnknownType(t *testing.T) {
	_, err := newTransport(context.Background(), "srv", config.TransportConfig{Type: "carrier-pigeon"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
}

func TestNewTransportRequiresCommand(t *testing.T) {
	_, err := newTransport(context.Background(), "srv", config.TransportConfig{Type: config.TransportTypeStdio}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires command")
}

func TestNewTransportRequiresBaseURL(t *testing.T) {
	_, err := newTransport(context.Background(), "srv", config.TransportConfig{Type: config.TransportTypeHTTP}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires base_url")
}

func TestCallTimeout(t *testing.T) {
	assert.Equal(t, DefaultInvokeTimeout, callTimeout(config.TransportConfig{}))
	assert.Equal(t, 90*time.Second, callTimeout(config.TransportConfig{Timeout: 90}))
}

func TestRetryableRPCCode(t *testing.T) {
	assert.True(t, retryableRPCCode(-32000))
	assert.True(t, retryableRPCCode(-32050))
	assert.True(t, retryableRPCCode(-32099))

	assert.False(t, retryableRPCCode(-31999))
	assert.False(t, retryableRPCCode(-32100))
	assert.False(t, retryableRPCCode(-32602))
	assert.False(t, retryableRPCCode(404))
}
