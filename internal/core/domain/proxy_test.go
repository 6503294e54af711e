package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ClassifyProxy Tests
// =============================================================================

func TestClassifyProxy(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		status string
		want   ProxyState
	}{
		{"absent when no container", false, "", ProxyAbsent},
		{"absent ignores status", false, "running", ProxyAbsent},
		{"running", true, "running", ProxyRunning},
		{"exited is stopped", true, "exited", ProxyStopped},
		{"created is stopped", true, "created", ProxyStopped},
		{"dead is stopped", true, "dead", ProxyStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyProxy(tt.exists, tt.status))
		})
	}
}

// =============================================================================
// ProxyHealth Tests
// =============================================================================

func TestProxyHealth_Healthy(t *testing.T) {
	h := ProxyHealth{SyntaxOK: true, PortsListening: true, WorkerActive: true}
	assert.True(t, h.Healthy())
	assert.Equal(t, "", h.FailingCheck())
}

func TestProxyHealth_FailingCheck(t *testing.T) {
	tests := []struct {
		name   string
		health ProxyHealth
		want   string
	}{
		{"syntax first", ProxyHealth{}, "syntax validation"},
		{"ports next", ProxyHealth{SyntaxOK: true}, "listening ports"},
		{"worker last", ProxyHealth{SyntaxOK: true, PortsListening: true}, "worker process"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.health.Healthy())
			assert.Equal(t, tt.want, tt.health.FailingCheck())
		})
	}
}
