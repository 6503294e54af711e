package domain

import "time"

// =============================================================================
// Deployment Attempts
// =============================================================================

// Stage identifies one step of the deployment pipeline.
type Stage string

const (
	StageValidate     Stage = "validate"
	StageProxyReady   Stage = "proxy_ready"
	StageNetworks     Stage = "networks"
	StageContainer    Stage = "container"
	StageDNS          Stage = "dns"
	StageCertificate  Stage = "certificate"
	StageConnectivity Stage = "connectivity"
	StageCompile      Stage = "compile"
	StageApply        Stage = "apply"
	StageSmokeTest    Stage = "smoke_test"
	StageTeardown     Stage = "teardown"
)

// Outcome is the terminal result of a deployment attempt.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeInProgress Outcome = "in_progress"
)

// DeploymentAttempt records one run of the orchestrator for a project.
// A run either completes or fully aborts; there is no half-integrated state.
type DeploymentAttempt struct {
	ID          string
	ProjectName string

	// StagesDone lists the stages completed in order.
	StagesDone []Stage

	Outcome Outcome

	// RolledBack marks that compensating teardown ran for this attempt.
	RolledBack bool

	// FailedStage and ErrorKind are set when Outcome is failed.
	FailedStage Stage
	ErrorKind   ErrorKind
	ErrorDetail string

	StartedAt  time.Time
	FinishedAt time.Time
}

// MarkStage appends a completed stage.
func (a *DeploymentAttempt) MarkStage(s Stage) {
	a.StagesDone = append(a.StagesDone, s)
}

// Completed reports whether the given stage finished in this attempt.
func (a *DeploymentAttempt) Completed(s Stage) bool {
	for _, done := range a.StagesDone {
		if done == s {
			return true
		}
	}
	return false
}
