// Package dnsprovider provisions public DNS records for deployed domains.
// Provisioning is optional: without a configured provider, deployments
// assume DNS is managed out of band.
package dnsprovider

import (
	"context"
	"fmt"
	"log/slog"

	cf "github.com/cloudflare/cloudflare-go"
)

// Provider upserts and removes the A record pointing a domain at the host
// running the shared proxy.
type Provider interface {
	// EnsureRecord makes the domain resolve to the proxy host. Idempotent.
	EnsureRecord(ctx context.Context, domain string) error

	// RemoveRecord deletes the domain's record. A missing record is not an
	// error.
	RemoveRecord(ctx context.Context, domain string) error
}

// =============================================================================
// Noop Provider
// =============================================================================

// NoopProvider is used when no DNS integration is configured.
type NoopProvider struct {
	logger *slog.Logger
}

// NewNoopProvider creates a provider that records nothing.
func NewNoopProvider(logger *slog.Logger) *NoopProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopProvider{logger: logger.With("component", "dns")}
}

func (p *NoopProvider) EnsureRecord(_ context.Context, domain string) error {
	p.logger.Debug("dns integration disabled, assuming external management", "domain", domain)
	return nil
}

func (p *NoopProvider) RemoveRecord(_ context.Context, domain string) error {
	p.logger.Debug("dns integration disabled, skipping record removal", "domain", domain)
	return nil
}

// =============================================================================
// Cloudflare Provider
// =============================================================================

// recordAPI is the slice of the Cloudflare API the provider uses.
type recordAPI interface {
	ListDNSRecords(ctx context.Context, rc *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	UpdateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.UpdateDNSRecordParams) (cf.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
}

// CloudflareConfig configures the Cloudflare provider.
type CloudflareConfig struct {
	APIToken string
	ZoneID   string

	// ServerAddr is the public address of the host running the proxy.
	ServerAddr string

	// Proxied enables Cloudflare's proxy on created records.
	Proxied bool

	// TTL in seconds; 1 means automatic.
	TTL int
}

// CloudflareProvider manages A records in one Cloudflare zone.
type CloudflareProvider struct {
	api    recordAPI
	config CloudflareConfig
	logger *slog.Logger
}

// NewCloudflareProvider creates a Cloudflare-backed DNS provider.
func NewCloudflareProvider(config CloudflareConfig, logger *slog.Logger) (*CloudflareProvider, error) {
	api, err := cf.NewWithAPIToken(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("initialize cloudflare client: %w", err)
	}
	return newCloudflareProvider(api, config, logger), nil
}

func newCloudflareProvider(api recordAPI, config CloudflareConfig, logger *slog.Logger) *CloudflareProvider {
	if config.TTL == 0 {
		config.TTL = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudflareProvider{
		api:    api,
		config: config,
		logger: logger.With("component", "dns"),
	}
}

// EnsureRecord upserts the domain's A record to the proxy host. An existing
// record pointing elsewhere is updated in place, keeping its ID.
func (p *CloudflareProvider) EnsureRecord(ctx context.Context, domain string) error {
	zone := cf.ZoneIdentifier(p.config.ZoneID)

	existing, _, err := p.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{
		Type: "A",
		Name: domain,
	})
	if err != nil {
		return fmt.Errorf("list dns records for %s: %w", domain, err)
	}

	proxied := p.config.Proxied
	if len(existing) > 0 {
		record := existing[0]
		if record.Content == p.config.ServerAddr {
			p.logger.Debug("dns record already correct", "domain", domain)
			return nil
		}
		_, err := p.api.UpdateDNSRecord(ctx, zone, cf.UpdateDNSRecordParams{
			ID:      record.ID,
			Type:    "A",
			Name:    domain,
			Content: p.config.ServerAddr,
			TTL:     p.config.TTL,
			Proxied: &proxied,
		})
		if err != nil {
			return fmt.Errorf("update dns record for %s: %w", domain, err)
		}
		p.logger.Info("updated dns record", "domain", domain, "address", p.config.ServerAddr)
		return nil
	}

	_, err = p.api.CreateDNSRecord(ctx, zone, cf.CreateDNSRecordParams{
		Type:    "A",
		Name:    domain,
		Content: p.config.ServerAddr,
		TTL:     p.config.TTL,
		Proxied: &proxied,
	})
	if err != nil {
		return fmt.Errorf("create dns record for %s: %w", domain, err)
	}
	p.logger.Info("created dns record", "domain", domain, "address", p.config.ServerAddr)
	return nil
}

// RemoveRecord deletes the domain's A record if present.
func (p *CloudflareProvider) RemoveRecord(ctx context.Context, domain string) error {
	zone := cf.ZoneIdentifier(p.config.ZoneID)

	existing, _, err := p.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{
		Type: "A",
		Name: domain,
	})
	if err != nil {
		return fmt.Errorf("list dns records for %s: %w", domain, err)
	}
	if len(existing) == 0 {
		return nil
	}

	if err := p.api.DeleteDNSRecord(ctx, zone, existing[0].ID); err != nil {
		return fmt.Errorf("delete dns record for %s: %w", domain, err)
	}
	p.logger.Info("deleted dns record", "domain", domain)
	return nil
}
