package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ValidateProjectName Tests
// =============================================================================

func TestValidateProjectName_Valid(t *testing.T) {
	for _, name := range []string{"alpha", "my-app", "web2", "a"} {
		assert.NoError(t, ValidateProjectName(name), name)
	}
}

func TestValidateProjectName_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrEmptyName},
		{"whitespace only", "   ", ErrEmptyName},
		{"uppercase", "Alpha", ErrInvalidName},
		{"leading digit", "1app", ErrInvalidName},
		{"leading hyphen", "-app", ErrInvalidName},
		{"underscore", "my_app", ErrInvalidName},
		{"space", "my app", ErrInvalidName},
		{"too long", strings.Repeat("a", 64), ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateProjectName(tt.input), tt.wantErr)
		})
	}
}

// =============================================================================
// ValidateDomain Tests
// =============================================================================

func TestValidateDomain_Valid(t *testing.T) {
	for _, d := range []string{"alpha.test", "beta.example.com", "a-b.co", "x.apps.internal.io"} {
		assert.NoError(t, ValidateDomain(d), d)
	}
}

func TestValidateDomain_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrEmptyDomain},
		{"spaces", "not a domain", ErrInvalidDomain},
		{"no tld", "localhost", ErrInvalidDomain},
		{"numeric tld", "alpha.123", ErrInvalidDomain},
		{"hyphen edge", "-alpha.test", ErrInvalidDomain},
		{"trailing dot", "alpha.test.", ErrInvalidDomain},
		{"too long", strings.Repeat("a", 250) + ".com", ErrDomainTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateDomain(tt.input), tt.wantErr)
		})
	}
}

func TestValidateDomain_CaseInsensitive(t *testing.T) {
	assert.NoError(t, ValidateDomain("Alpha.Test"))
}

// =============================================================================
// ValidatePort Tests
// =============================================================================

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(9001))
	assert.NoError(t, ValidatePort(9001, 80, 443))
	assert.ErrorIs(t, ValidatePort(0), ErrInvalidPort)
	assert.ErrorIs(t, ValidatePort(-1), ErrInvalidPort)
	assert.ErrorIs(t, ValidatePort(70000), ErrInvalidPort)
	assert.ErrorIs(t, ValidatePort(443, 80, 443), ErrReservedPort)
}

// =============================================================================
// ValidateDeployRequest Tests
// =============================================================================

func TestValidateDeployRequest_FirstFailureWins(t *testing.T) {
	assert.ErrorIs(t, ValidateDeployRequest("", "alpha.test", 9001), ErrEmptyName)
	assert.ErrorIs(t, ValidateDeployRequest("alpha", "bad domain", 9001), ErrInvalidDomain)
	assert.ErrorIs(t, ValidateDeployRequest("alpha", "alpha.test", 0), ErrInvalidPort)
	assert.NoError(t, ValidateDeployRequest("alpha", "alpha.test", 9001, 80, 443))
}
