package route

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/validation"
)

// =============================================================================
// Template
// =============================================================================

// Proxy timeouts are fixed: connect/send/read of 60s each.
const proxyTimeout = "60s"

// allowedMethods is the method filter whitelist; anything else gets the
// connection closed.
const allowedMethods = "^(GET|HEAD|POST|PUT|PATCH|DELETE|OPTIONS)$"

// Template is the fixed set of references a route unit is compiled
// against. These must line up with the base snippets the proxy bootstrap
// writes (see BaseConf and SecurityHeaders).
type Template struct {
	// TLSPort and PlainPort are the proxy listen ports.
	TLSPort   int
	PlainPort int

	// CertDir is the certificate directory as seen inside the proxy
	// container. Certificates live at {CertDir}/{domain}/fullchain.pem and
	// privkey.pem.
	CertDir string

	// SecurityHeadersPath is the include file carrying the security headers.
	SecurityHeadersPath string

	// RateLimitZone is the shared limit_req zone name.
	RateLimitZone string

	// BlockedAgentVar is the map variable flagging blocked user agents.
	BlockedAgentVar string

	// ACMEUpstream is the address, as seen from inside the proxy, of the
	// HTTP-01 challenge responder. Empty disables challenge forwarding:
	// all plaintext traffic redirects unconditionally.
	ACMEUpstream string
}

// DefaultTemplate returns the template matching the bootstrap base config.
func DefaultTemplate() Template {
	return Template{
		TLSPort:             443,
		PlainPort:           80,
		CertDir:             "/etc/berth/certs",
		SecurityHeadersPath: "/etc/nginx/conf.d/berth-security-headers.inc",
		RateLimitZone:       "berth_ratelimit",
		BlockedAgentVar:     "$berth_blocked_agent",
	}
}

// CertFile returns the certificate path for a domain inside the proxy.
func (t Template) CertFile(domain string) string {
	return fmt.Sprintf("%s/%s/fullchain.pem", t.CertDir, domain)
}

// KeyFile returns the private key path for a domain inside the proxy.
func (t Template) KeyFile(domain string) string {
	return fmt.Sprintf("%s/%s/privkey.pem", t.CertDir, domain)
}

// =============================================================================
// Compiler
// =============================================================================

// ErrNoUpstream is returned when the project has no resolved upstream
// address. Compilation always embeds the latest resolution; it never
// invents one.
var ErrNoUpstream = errors.New("project has no resolved upstream address")

// Compile turns a project into its route unit. The domain is validated
// against the canonical FQDN pattern first; an invalid domain fails
// compilation (and with it the deployment) before anything is staged.
func Compile(tmpl Template, p domain.Project) (*Unit, error) {
	if err := validation.ValidateDomain(p.Domain); err != nil {
		return nil, err
	}
	if p.UpstreamAddr == "" {
		return nil, ErrNoUpstream
	}

	d := validation.NormalizeDomain(p.Domain)
	upstream := p.Upstream()
	serverNames := []string{d, "www." + d}

	return &Unit{
		Domain:   d,
		Upstream: upstream,
		Secure:   secureBlock(tmpl, d, serverNames, upstream, p),
		Insecure: insecureBlock(tmpl, serverNames),
	}, nil
}

// secureBlock builds the TLS server block: certificates, security headers,
// bot/method filter, rate limit, proxied default location, quiet /health
// location, and the upstream-unavailable error mapping.
func secureBlock(tmpl Template, d string, serverNames []string, upstream string, p domain.Project) Block {
	certFile := p.CertPath
	keyFile := p.KeyPath
	if certFile == "" {
		certFile = tmpl.CertFile(d)
	}
	if keyFile == "" {
		keyFile = tmpl.KeyFile(d)
	}

	b := Block{Name: "server"}
	b.Add(
		dir("listen", fmt.Sprintf("%d", tmpl.TLSPort), "ssl"),
		dir("server_name", serverNames...),
		dir("ssl_certificate", certFile),
		dir("ssl_certificate_key", keyFile),
		dir("include", tmpl.SecurityHeadersPath),
	)

	// Bot and method filters close the connection outright (444) instead
	// of answering.
	b.Add(
		&Block{Name: "if", Args: []string{fmt.Sprintf("(%s)", tmpl.BlockedAgentVar)}, Items: []Item{
			dir("return", "444"),
		}},
		&Block{Name: "if", Args: []string{fmt.Sprintf("($request_method !~ %s)", allowedMethods)}, Items: []Item{
			dir("return", "444"),
		}},
		dir("limit_req", "zone="+tmpl.RateLimitZone, "burst=20", "nodelay"),
		dir("error_page", "502", "503", "504", "=", "@unavailable"),
	)

	b.Add(
		&Block{Name: "location", Args: []string{"/"}, Items: []Item{
			dir("proxy_pass", "http://"+upstream),
			dir("proxy_set_header", "Host", "$host"),
			dir("proxy_set_header", "X-Real-IP", "$remote_addr"),
			dir("proxy_set_header", "X-Forwarded-For", "$proxy_add_x_forwarded_for"),
			dir("proxy_set_header", "X-Forwarded-Proto", "$scheme"),
			dir("proxy_set_header", "X-Forwarded-Host", "$host"),
			dir("proxy_set_header", "X-Forwarded-Port", "$server_port"),
			dir("proxy_connect_timeout", proxyTimeout),
			dir("proxy_send_timeout", proxyTimeout),
			dir("proxy_read_timeout", proxyTimeout),
			dir("proxy_buffering", "on"),
			dir("proxy_buffers", "16", "16k"),
			dir("proxy_buffer_size", "16k"),
		}},
		&Block{Name: "location", Args: []string{"/health"}, Items: []Item{
			dir("proxy_pass", "http://"+upstream+"/health"),
			dir("access_log", "off"),
		}},
		&Block{Name: "location", Args: []string{"@unavailable"}, Items: []Item{
			dir("default_type", "text/plain"),
			dir("return", "503", `"upstream temporarily unavailable"`),
		}},
	)

	return b
}

// insecureBlock builds the plaintext server block: same server names, same
// rate limit, permanent redirect to the HTTPS equivalent preserving path
// and query. With an ACME upstream configured the redirect moves into a
// location block so challenge requests can be forwarded instead; a
// server-level return would fire before location matching and swallow
// them.
func insecureBlock(tmpl Template, serverNames []string) Block {
	b := Block{Name: "server"}
	b.Add(
		dir("listen", fmt.Sprintf("%d", tmpl.PlainPort)),
		dir("server_name", serverNames...),
		dir("limit_req", "zone="+tmpl.RateLimitZone, "burst=20", "nodelay"),
	)
	if tmpl.ACMEUpstream == "" {
		b.Add(dir("return", "301", "https://$host$request_uri"))
		return b
	}
	b.Add(
		challengeLocation(tmpl),
		&Block{Name: "location", Args: []string{"/"}, Items: []Item{
			dir("return", "301", "https://$host$request_uri"),
		}},
	)
	return b
}

// challengeLocation forwards HTTP-01 challenge requests to the responder
// running in the berth process.
func challengeLocation(tmpl Template) *Block {
	return &Block{Name: "location", Args: []string{"/.well-known/acme-challenge/"}, Items: []Item{
		dir("proxy_pass", "http://"+tmpl.ACMEUpstream),
		dir("proxy_set_header", "Host", "$host"),
	}}
}

// =============================================================================
// Base Snippets
// =============================================================================

// BaseConf renders the http-level base configuration the route units
// depend on: the rate-limit zone and the blocked-agent map. The proxy
// bootstrap writes this once as 00-berth-base.conf.
func BaseConf(tmpl Template) string {
	var sb strings.Builder
	sb.WriteString("# berth base configuration - managed by berth, do not edit\n")
	zone := Directive{Name: "limit_req_zone", Args: []string{
		"$binary_remote_addr", "zone=" + tmpl.RateLimitZone + ":10m", "rate=10r/s",
	}}
	zone.write(&sb, 0)

	m := Block{Name: "map", Args: []string{"$http_user_agent", tmpl.BlockedAgentVar}}
	m.Add(
		dir("default", "0"),
		dir("~*(sqlmap|nikto|masscan|nmap|zgrab|python-requests)", "1"),
	)
	m.write(&sb, 0)

	// Certificate issuance runs before the domain's own route unit exists,
	// so the first challenge for a domain arrives at the default server.
	if tmpl.ACMEUpstream != "" {
		srv := Block{Name: "server"}
		srv.Add(
			dir("listen", fmt.Sprintf("%d", tmpl.PlainPort), "default_server"),
			dir("server_name", "_"),
			challengeLocation(tmpl),
			&Block{Name: "location", Args: []string{"/"}, Items: []Item{
				dir("return", "444"),
			}},
		)
		srv.write(&sb, 0)
	}
	return sb.String()
}

// SecurityHeaders renders the include file applied inside every secure
// server block.
func SecurityHeaders() string {
	var sb strings.Builder
	sb.WriteString("# berth security headers - managed by berth, do not edit\n")
	for _, d := range []Directive{
		dir("add_header", "X-Frame-Options", "SAMEORIGIN", "always"),
		dir("add_header", "X-Content-Type-Options", "nosniff", "always"),
		dir("add_header", "Referrer-Policy", "strict-origin-when-cross-origin", "always"),
		dir("add_header", "Strict-Transport-Security", `"max-age=31536000; includeSubDomains"`, "always"),
	} {
		d.write(&sb, 0)
	}
	return sb.String()
}
