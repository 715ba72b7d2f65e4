// =============================================================================
// TLS - TRANSPORT SECURITY FOR THE ADMIN AND gRPC LISTENERS
// =============================================================================
//
// ┌─────────────────────────────────────────────────────────────────────────────┐
// │ WHAT IS PROTECTED?                                                          │
// │                                                                             │
// │   HTTP admin API  - policy writes, fence/terminate, resource groups         │
// │   gRPC listener   - health probes and the producer connection layer         │
// │                                                                             │
// │ Both listeners share one *tls.Config built here. With client_auth set to    │
// │ require-verify and a ca_file, only clients holding a certificate signed by  │
// │ that CA can reach either surface (mTLS).                                    │
// │                                                                             │
// │ CERTIFICATE SOURCES (first match wins):                                     │
// │   1. cert_file + key_file   PEM files, e.g. mounted from a Secret           │
// │   2. self_signed            ECDSA P-256 cert generated at startup (dev)     │
// └─────────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNoCertificate means TLS is enabled without a certificate source.
	ErrNoCertificate = errors.New("tls enabled but no certificate provided")

	// ErrInvalidTLSOption is returned for an unknown client_auth or
	// min_version value.
	ErrInvalidTLSOption = errors.New("invalid tls option")
)

// TLSConfig is the tls: section of the broker configuration.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are the server certificate and key (PEM).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile verifies client certificates when ClientAuth asks for them.
	CAFile string `yaml:"ca_file"`

	// ClientAuth is one of none, request, require, verify, require-verify.
	ClientAuth string `yaml:"client_auth"`

	// MinVersion is "1.2" or "1.3". Anything lower is raised to 1.2.
	MinVersion string `yaml:"min_version"`

	// SelfSigned generates a throwaway certificate when no files are given.
	SelfSigned bool `yaml:"self_signed"`

	// CertDir, when set, receives the generated server.crt and server.key.
	CertDir string `yaml:"cert_dir"`

	// Hosts are extra DNS names or IPs for the self-signed certificate.
	Hosts []string `yaml:"hosts"`
}

// DefaultTLSConfig returns TLS disabled with a TLS 1.2 floor.
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{
		ClientAuth: "none",
		MinVersion: "1.2",
	}
}

// ParseClientAuth maps the client_auth option to a tls.ClientAuthType.
func ParseClientAuth(s string) (tls.ClientAuthType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAnyClientCert, nil
	case "verify":
		return tls.VerifyClientCertIfGiven, nil
	case "require-verify":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("%w: client_auth %q", ErrInvalidTLSOption, s)
	}
}

// ParseMinVersion maps the min_version option to a tls version constant.
func ParseMinVersion(s string) (uint16, error) {
	switch s {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: min_version %q", ErrInvalidTLSOption, s)
	}
}

// Validate lists configuration problems without touching the filesystem.
func (c *TLSConfig) Validate() []string {
	if !c.Enabled {
		return nil
	}
	var errs []string
	if _, err := ParseClientAuth(c.ClientAuth); err != nil {
		errs = append(errs, "tls."+err.Error())
	}
	if _, err := ParseMinVersion(c.MinVersion); err != nil {
		errs = append(errs, "tls."+err.Error())
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, "tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && !c.SelfSigned {
		errs = append(errs, "tls: set cert_file/key_file or self_signed")
	}
	if strings.EqualFold(c.ClientAuth, "require-verify") && c.CAFile == "" {
		errs = append(errs, "tls: client_auth require-verify needs ca_file")
	}
	return errs
}

// ServerConfig builds the *tls.Config shared by the listeners. It returns
// nil, nil when TLS is disabled.
func (c *TLSConfig) ServerConfig(logger *slog.Logger) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientAuth, err := ParseClientAuth(c.ClientAuth)
	if err != nil {
		return nil, err
	}
	minVersion, err := ParseMinVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion: minVersion,
		ClientAuth: clientAuth,
	}

	var cert tls.Certificate
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		logger.Info("loaded TLS certificate", "cert", c.CertFile)
	case c.SelfSigned:
		cert, err = c.generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		logger.Warn("using self-signed certificate, not for production")
	default:
		return nil, ErrNoCertificate
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	if c.CAFile != "" {
		pool, err := LoadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		logger.Info("loaded CA certificate for client verification", "ca", c.CAFile)
	}

	return tlsConfig, nil
}

// LoadCertPool reads a PEM bundle into a pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("failed to parse CA cert %s", path)
	}
	return pool, nil
}

// generateSelfSignedCert creates an ECDSA P-256 certificate valid for a year
// for localhost, the loopback addresses and Hosts.
func (c *TLSConfig) generateSelfSignedCert() (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"topicgate development"},
			CommonName:   "topicgate",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", "topicgate"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	for _, h := range c.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if c.CertDir != "" {
		if err := os.MkdirAll(c.CertDir, 0o700); err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to create cert dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(c.CertDir, "server.crt"), certPEM, 0o600); err != nil {
			return tls.Certificate{}, err
		}
		if err := os.WriteFile(filepath.Join(c.CertDir, "server.key"), keyPEM, 0o600); err != nil {
			return tls.Certificate{}, err
		}
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
