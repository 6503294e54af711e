package cert

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEIssuer obtains certificates from an ACME CA through autocert. The
// obtained pair is re-encoded to PEM files for the proxy; autocert's own
// cache lives in a hidden directory under the cert root.
//
// HTTP-01 challenges are served by ChallengeHandler on a dedicated host
// listener; the proxy forwards /.well-known/acme-challenge/ there through
// its host-gateway alias.
type ACMEIssuer struct {
	manager *autocert.Manager
}

// NewACMEIssuer creates an ACME issuer caching under certDir.
func NewACMEIssuer(certDir, email string) *ACMEIssuer {
	return &ACMEIssuer{
		manager: &autocert.Manager{
			Cache:  autocert.DirCache(filepath.Join(certDir, ".acme-cache")),
			Prompt: autocert.AcceptTOS,
			Email:  email,
			// Issuance is driven explicitly per deployed domain, so any
			// host reaching Issue is already validated upstream.
			HostPolicy: func(context.Context, string) error { return nil },
		},
	}
}

// ChallengeHandler serves HTTP-01 challenge responses, delegating
// everything else to fallback.
func (a *ACMEIssuer) ChallengeHandler(fallback http.Handler) http.Handler {
	return a.manager.HTTPHandler(fallback)
}

// Issue obtains a certificate for the domain and returns the chain and key
// as PEM.
func (a *ACMEIssuer) Issue(ctx context.Context, domain string) ([]byte, []byte, error) {
	hello := &tls.ClientHelloInfo{
		ServerName:        domain,
		SupportedProtos:   []string{"acme-tls/1", "h2", "http/1.1"},
		SignatureSchemes:  []tls.SignatureScheme{tls.ECDSAWithP256AndSHA256, tls.PKCS1WithSHA256},
		SupportedVersions: []uint16{tls.VersionTLS13, tls.VersionTLS12},
	}
	cert, err := a.manager.GetCertificate(hello)
	if err != nil {
		return nil, nil, fmt.Errorf("acme issuance for %s: %w", domain, err)
	}

	var certPEM []byte
	for _, der := range cert.Certificate {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}

	keyPEM, err := encodeKey(cert.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("acme issuance for %s: %w", domain, err)
	}
	return certPEM, keyPEM, nil
}

func encodeKey(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
