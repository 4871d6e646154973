package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"direct", E(Timeout, "mcp.invoke", errors.New("deadline")), Timeout},
		{"wrapped", fmt.Errorf("outer: %w", E(PermissionDenied, "host.invoke", nil)), PermissionDenied},
		{"plain error", errors.New("boom"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout retries", E(Timeout, "x", nil), true},
		{"transport closed retries", E(TransportClosed, "x", nil), true},
		{"dependency retries", E(DependencyUnavailable, "x", nil), true},
		{"schema fatal", E(SchemaInvalid, "x", nil), false},
		{"permission fatal", E(PermissionDenied, "x", nil), false},
		{"not found no retry", E(NotFound, "x", nil), false},
		{"cancelled no retry", E(Cancelled, "x", nil), false},
		{"rpc retryable flag on", RPC("x", -32001, "busy", true), true},
		{"rpc retryable flag off", RPC("x", -32602, "bad params", false), false},
		{"unclassified retries then DLQs", errors.New("weird"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(E(SchemaInvalid, "x", nil)))
	assert.True(t, Fatal(E(PermissionDenied, "x", nil)))
	assert.False(t, Fatal(E(Timeout, "x", nil)))
	assert.False(t, Fatal(errors.New("boom")))
}

func TestWithAttempts(t *testing.T) {
	orig := RPC("ingest.pull", -32000, "backend busy", true)
	tagged := WithAttempts(orig, 4)

	var fe *Error
	require.ErrorAs(t, tagged, &fe)
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, -32000, fe.Code)

	// The original error is untouched so the DLQ record sees the real failure.
	assert.Equal(t, 0, orig.Attempts)

	// Plain errors get wrapped but remain reachable via errors.Is.
	plain := errors.New("boom")
	wrapped := WithAttempts(plain, 2)
	assert.ErrorIs(t, wrapped, plain)
}

func TestErrorString(t *testing.T) {
	err := E(Timeout, "mcp.invoke", errors.New("deadline exceeded"))
	assert.Equal(t, "mcp.invoke: timeout: deadline exceeded", err.Error())

	rpc := RPC("host.invoke", -32601, "method not found", false)
	assert.Contains(t, rpc.Error(), "rpc_error")
	assert.Contains(t, rpc.Error(), "method not found")
}
