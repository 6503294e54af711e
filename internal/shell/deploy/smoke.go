package deploy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Smoke Tester
// =============================================================================

// HostSmoke probes deployed domains through the proxy's published ports on
// the local host. The Host header (and TLS server name) carry the domain;
// the connection itself always targets the proxy address, so probes work
// before public DNS propagates.
type HostSmoke struct {
	// ProxyAddr is where the proxy's published ports live.
	ProxyAddr string

	HTTPSPort int
	HTTPPort  int

	Timeout time.Duration

	logger *slog.Logger
	client *http.Client
}

// NewHostSmoke creates a smoke tester against the local proxy ports.
func NewHostSmoke(httpsPort, httpPort int, logger *slog.Logger) *HostSmoke {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HostSmoke{
		ProxyAddr: "127.0.0.1",
		HTTPSPort: httpsPort,
		HTTPPort:  httpPort,
		Timeout:   10 * time.Second,
		logger:    logger.With("component", "smoke"),
	}
	s.client = &http.Client{
		Timeout: s.Timeout,
		// Redirects are assertions here, never followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			// Self-signed and fallback certificates are expected.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				// Every probe lands on the proxy regardless of the domain
				// in the URL.
				_, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				d := net.Dialer{Timeout: s.Timeout}
				return d.DialContext(ctx, network, net.JoinHostPort(s.ProxyAddr, port))
			},
		},
	}
	return s
}

// TestNew checks a freshly published domain: the secure endpoint answers
// and the plaintext endpoint redirects to HTTPS.
func (s *HostSmoke) TestNew(ctx context.Context, domain string) error {
	if err := s.probeSecure(ctx, domain); err != nil {
		return err
	}
	return s.probeRedirect(ctx, domain)
}

// TestExisting re-probes a previously published domain as a regression
// check: its redirect behavior must be unchanged.
func (s *HostSmoke) TestExisting(ctx context.Context, domain string) error {
	return s.probeRedirect(ctx, domain)
}

// probeSecure hits the health endpoint over TLS. Any upstream answer
// passes; 502/504 mean the proxy could not reach the upstream it was just
// told about.
func (s *HostSmoke) probeSecure(ctx context.Context, domain string) error {
	url := fmt.Sprintf("https://%s:%d/health", domain, s.HTTPSPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("secure probe for %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout {
		return fmt.Errorf("secure probe for %s: upstream unreachable through proxy (status %d)", domain, resp.StatusCode)
	}
	s.logger.Debug("secure probe ok", "domain", domain, "status", resp.StatusCode)
	return nil
}

// probeRedirect hits the plaintext port and asserts the permanent redirect
// to HTTPS.
func (s *HostSmoke) probeRedirect(ctx context.Context, domain string) error {
	url := fmt.Sprintf("http://%s:%d/", domain, s.HTTPPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("redirect probe for %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		return fmt.Errorf("redirect probe for %s: got status %d, want 301", domain, resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "https://") {
		return fmt.Errorf("redirect probe for %s: location %q is not https", domain, location)
	}
	s.logger.Debug("redirect probe ok", "domain", domain, "location", location)
	return nil
}
