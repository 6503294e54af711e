package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEmptyName     = errors.New("project name is required")
	ErrInvalidName   = errors.New("project name must be lowercase letters, digits and hyphens, starting with a letter")
	ErrNameTooLong   = errors.New("project name must be under 64 characters")
	ErrEmptyDomain   = errors.New("domain is required")
	ErrInvalidDomain = errors.New("invalid domain format")
	ErrDomainTooLong = errors.New("domain must be under 253 characters")
	ErrInvalidPort   = errors.New("upstream port must be between 1 and 65535")
	ErrReservedPort  = errors.New("upstream port collides with the proxy listen ports")
)

// =============================================================================
// Validation
// =============================================================================

// nameRegex matches container-safe project names. The name becomes a
// container name and a network name, so the character set is restricted
// beyond what Docker itself would accept.
var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// fqdnRegex matches canonical fully qualified domain names: dot-separated
// labels of letters/digits/hyphens, not hyphen-edged, with an alphabetic TLD.
var fqdnRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidateProjectName validates a project name for use as a container and
// network identifier.
func ValidateProjectName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 63 {
		return ErrNameTooLong
	}
	if !nameRegex.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// ValidateDomain validates a domain against the canonical FQDN pattern.
// Validation happens before compilation; an invalid domain fails the whole
// deployment before any container or network mutation occurs.
func ValidateDomain(domain string) error {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return ErrEmptyDomain
	}
	if len(domain) > 253 {
		return ErrDomainTooLong
	}
	if !fqdnRegex.MatchString(domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return nil
}

// ValidatePort validates an upstream port. The proxy's own listen ports are
// rejected to avoid a route forwarding into the proxy itself.
func ValidatePort(port int, proxyPorts ...int) error {
	if port < 1 || port > 65535 {
		return ErrInvalidPort
	}
	for _, reserved := range proxyPorts {
		if port == reserved {
			return ErrReservedPort
		}
	}
	return nil
}

// ValidateDeployRequest validates all user input of a deploy request.
// Returns the first failing check.
func ValidateDeployRequest(name, domain string, port int, proxyPorts ...int) error {
	if err := ValidateProjectName(name); err != nil {
		return err
	}
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	return ValidatePort(port, proxyPorts...)
}

// NormalizeDomain lowercases and trims a domain for storage and comparison.
func NormalizeDomain(domain string) string {
	return strings.TrimSpace(strings.ToLower(domain))
}
