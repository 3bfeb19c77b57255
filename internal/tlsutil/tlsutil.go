// Package tlsutil configures TLS for internal/httpapi's listener, adapted
// Config instead of hanging off a
// config.ServerConfig/config.TLSConfig pair owned by internal/config;
// bunctl's internal/configio decodes straight into app.Config with no
// server-level config struct, so this package carries its own small
// Config instead of reusing the teacher's.
package tlsutil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertFile = "tls_ca.crt"
	certFile   = "tls.crt"
	keyFile    = "tls.key"
)

// AutoGen configures self-signed certificate generation when no cert/key
// files are supplied.
type AutoGen struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []string
	ValidDays    int
}

// Config describes how a listener should be secured.
type Config struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	AutoGen      *AutoGen
	MinVersion   string // "1.2", "1.3", or "" for the default (1.3)
	MaxVersion   string
}

// Setup builds a *tls.Config from cfg, generating a self-signed
// certificate under cfg.Dir first if AutoGenerate is set and no
// certificate exists there yet. Returns (nil, nil) if cfg.Enabled is
// false, so callers can pass the result straight to http.Server.TLSConfig
// without a nil check of their own.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	minVer, maxVer := resolveVersions(cfg)

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return buildConfig(cfg.CertFile, cfg.KeyFile, minVer, maxVer)
	}

	if cfg.Dir != "" {
		cert := filepath.Join(cfg.Dir, certFile)
		key := filepath.Join(cfg.Dir, keyFile)
		if cfg.AutoGenerate && !exist(cert, key) {
			if err := generate(cfg, cfg.Dir); err != nil {
				return nil, fmt.Errorf("tlsutil: generate certificate: %w", err)
			}
		}
		return buildConfig(cert, key, minVer, maxVer)
	}

	return nil, errors.New("tlsutil: TLS enabled but no certificate configuration given")
}

func parseVersion(v string) (uint16, bool) {
	switch v {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveVersions(cfg Config) (min uint16, max uint16) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(cfg.MinVersion); ok {
		min = v
	}
	if v, ok := parseVersion(cfg.MaxVersion); ok {
		max = v
	}
	return min, max
}

// safeReadFile refuses to read outside baseDir, guarding against a
// cert/key path containing "../" escaping the configured cert directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("tlsutil: file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func getCertificateFunc(cert, key string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(cert)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, cert)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, key)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		return &pair, err
	}
}

func buildConfig(cert, key string, minVer, maxVer uint16) (*tls.Config, error) {
	return &tls.Config{
		GetCertificate: getCertificateFunc(cert, key),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func exist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(cfg Config, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("tlsutil: create %s: %w", destDir, err)
	}

	ag := cfg.AutoGen
	if ag == nil {
		ag = &AutoGen{}
	}
	commonName := orDefault(ag.CommonName, "localhost")
	organization := orDefault(ag.Organization, "bunctl")
	dnsNames := orDefaultSlice(ag.DNSNames, []string{"localhost", "127.0.0.1"})
	ipAddresses := orDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"})

	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}

	return GenerateSelfSigned(CertParams{
		CommonName:   commonName,
		Organization: organization,
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, certFile),
		KeyPath:      filepath.Join(destDir, keyFile),
		CACertPath:   filepath.Join(destDir, caCertFile),
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultSlice(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
