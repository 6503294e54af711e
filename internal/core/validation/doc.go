// Package validation provides pure validation functions for deployment
// requests.
//
// This package contains the functional core logic for validating project
// input before any container, network, or proxy mutation happens. All
// functions are pure (no I/O, no side effects) and comply with ADR-002
// "Values as Boundaries".
//
// # Functions
//
//   - ValidateProjectName: Check the project name against slug rules
//   - ValidateDomain: Check a domain against the canonical FQDN pattern
//   - ValidatePort: Check an upstream port is in the unprivileged range
//   - ValidateDeployRequest: Run all of the above for a deploy request
//
// # Usage
//
// The orchestrator rejects invalid requests pre-mutation:
//
//	if err := validation.ValidateDeployRequest(name, domain, port); err != nil {
//	    // ValidationError - nothing was staged or created
//	}
package validation
