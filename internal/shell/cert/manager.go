// Package cert places TLS certificate material on disk for the proxy.
// The proxy terminates TLS from files, so the contract here is purely a
// file layout: every domain gets <certDir>/<domain>/fullchain.pem and
// privkey.pem, written before the route referencing them is applied.
package cert

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	certFileName = "fullchain.pem"
	keyFileName  = "privkey.pem"

	// fallbackDomain names the bootstrap certificate directory. The proxy
	// needs one resolvable certificate pair to start before any project
	// exists.
	fallbackDomain = "fallback"

	// renewBefore triggers reissue inside this window before expiry.
	renewBefore = 30 * 24 * time.Hour
)

// Paths is a domain's certificate pair on disk.
type Paths struct {
	CertFile string
	KeyFile  string
}

// Issuer produces certificate material for one domain.
type Issuer interface {
	// Issue returns PEM-encoded certificate chain and private key for the
	// domain and its www alias.
	Issue(ctx context.Context, domain string) (certPEM, keyPEM []byte, err error)
}

// Manager places per-domain certificates under a deterministic layout.
// When an ACME issuer is configured it is tried first; issuance failure
// degrades to a self-signed pair rather than blocking the deployment.
type Manager struct {
	certDir    string
	issuer     Issuer
	selfSigned Issuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a certificate manager rooted at certDir. issuer may
// be nil, in which case every domain gets a self-signed pair.
func NewManager(certDir string, issuer Issuer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		certDir:    certDir,
		issuer:     issuer,
		selfSigned: &SelfSignedIssuer{},
		logger:     logger.With("component", "cert"),
		now:        time.Now,
	}
}

// DomainPaths returns the deterministic file paths for a domain. The files
// may not exist yet.
func (m *Manager) DomainPaths(domain string) Paths {
	dir := filepath.Join(m.certDir, domain)
	return Paths{
		CertFile: filepath.Join(dir, certFileName),
		KeyFile:  filepath.Join(dir, keyFileName),
	}
}

// EnsureDomain makes sure a usable certificate pair exists for the domain
// and returns its paths. Existing material is kept unless it is expired,
// inside the renewal window, or does not cover the domain.
func (m *Manager) EnsureDomain(ctx context.Context, domain string) (Paths, error) {
	paths := m.DomainPaths(domain)

	if ok, reason := m.usable(paths, domain); ok {
		m.logger.Debug("certificate reused", "domain", domain)
		return paths, nil
	} else if reason != "" {
		m.logger.Info("certificate needs reissue", "domain", domain, "reason", reason)
	}

	certPEM, keyPEM, err := m.issue(ctx, domain)
	if err != nil {
		return Paths{}, err
	}
	if err := m.write(paths, certPEM, keyPEM); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

// EnsureFallback places the bootstrap certificate the proxy's default
// server block terminates with. Always self-signed.
func (m *Manager) EnsureFallback() error {
	paths := m.DomainPaths(fallbackDomain)
	if ok, _ := m.usable(paths, ""); ok {
		return nil
	}
	certPEM, keyPEM, err := m.selfSigned.Issue(context.Background(), "berth.invalid")
	if err != nil {
		return fmt.Errorf("generate fallback certificate: %w", err)
	}
	return m.write(paths, certPEM, keyPEM)
}

// issue tries the configured issuer first, degrading to self-signed so a
// deployment never blocks on an ACME outage.
func (m *Manager) issue(ctx context.Context, domain string) ([]byte, []byte, error) {
	if m.issuer != nil {
		certPEM, keyPEM, err := m.issuer.Issue(ctx, domain)
		if err == nil {
			return certPEM, keyPEM, nil
		}
		m.logger.Warn("issuer failed, falling back to self-signed certificate",
			"domain", domain, "error", err)
	}
	certPEM, keyPEM, err := m.selfSigned.Issue(ctx, domain)
	if err != nil {
		return nil, nil, fmt.Errorf("generate certificate for %s: %w", domain, err)
	}
	return certPEM, keyPEM, nil
}

// usable reports whether the pair at paths exists and still covers the
// domain outside the renewal window. The second return names the reason
// when a present pair is unusable.
func (m *Manager) usable(paths Paths, domain string) (bool, string) {
	data, err := os.ReadFile(paths.CertFile)
	if err != nil {
		return false, ""
	}
	if _, err := os.Stat(paths.KeyFile); err != nil {
		return false, "private key missing"
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return false, "certificate not parseable"
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, "certificate not parseable"
	}
	if m.now().Add(renewBefore).After(leaf.NotAfter) {
		return false, "inside renewal window"
	}
	if domain != "" {
		if err := leaf.VerifyHostname(domain); err != nil {
			return false, "domain not covered"
		}
	}
	return true, ""
}

func (m *Manager) write(paths Paths, certPEM, keyPEM []byte) error {
	if err := os.MkdirAll(filepath.Dir(paths.CertFile), 0o755); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	if err := os.WriteFile(paths.CertFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	// Key perms are tight; the proxy container reads it as root via the
	// read-only bind mount.
	if err := os.WriteFile(paths.KeyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// ErrNotIssued reports a domain without placed material.
var ErrNotIssued = errors.New("no certificate issued for domain")

// Lookup returns the placed paths for a domain, failing if the pair does
// not exist on disk.
func (m *Manager) Lookup(domain string) (Paths, error) {
	paths := m.DomainPaths(domain)
	if _, err := os.Stat(paths.CertFile); err != nil {
		return Paths{}, fmt.Errorf("%w: %s", ErrNotIssued, domain)
	}
	return paths, nil
}
