package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_Error(t *testing.T) {
	err := NewConnectivityError("health probe", errors.New("no response after 10 attempts"))
	assert.Contains(t, err.Error(), "connectivity")
	assert.Contains(t, err.Error(), "health probe")
	assert.Contains(t, err.Error(), "no response after 10 attempts")
}

func TestStageError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewInfrastructureError(StageNetworks, "create network", cause)
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"validation", NewValidationError("domain", errors.New("bad")), KindValidation},
		{"configuration", NewConfigurationError("nginx -t", errors.New("bad")), KindConfiguration},
		{"reload", NewReloadError("nginx -s reload", errors.New("bad")), KindReload},
		{"wrapped", fmt.Errorf("deploy: %w", NewConnectivityError("probe", errors.New("x"))), KindConnectivity},
		{"untyped defaults to infrastructure", errors.New("plain"), KindInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStageOf(t *testing.T) {
	err := NewInfrastructureError(StageContainer, "start", errors.New("x"))
	assert.Equal(t, StageContainer, StageOf(err))
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestDeploymentAttempt_Stages(t *testing.T) {
	a := &DeploymentAttempt{ID: "a1", ProjectName: "alpha"}
	a.MarkStage(StageValidate)
	a.MarkStage(StageNetworks)

	assert.True(t, a.Completed(StageValidate))
	assert.True(t, a.Completed(StageNetworks))
	assert.False(t, a.Completed(StageApply))
}
