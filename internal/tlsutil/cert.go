package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// CertParams describes a self-signed certificate to generate.
type CertParams struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []string
	NotAfter     time.Time
	CertPath     string
	KeyPath      string
	CACertPath   string
}

// GenerateSelfSigned writes a self-signed certificate and private key to
// p.CertPath/p.KeyPath (and, if set, a copy of the certificate to
// p.CACertPath, since a self-signed cert is its own CA).
func GenerateSelfSigned(p CertParams) error {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("tlsutil: generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   p.CommonName,
			Organization: []string{p.Organization},
		},
		NotBefore:             time.Now(),
		NotAfter:              p.NotAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              p.DNSNames,
	}
	for _, ipStr := range p.IPAddresses {
		if ip := net.ParseIP(ipStr); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("tlsutil: create certificate: %w", err)
	}

	if err := writePEM(p.CertPath, "CERTIFICATE", certDER); err != nil {
		return err
	}

	privateKeyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("tlsutil: marshal private key: %w", err)
	}
	if err := writePEM(p.KeyPath, "PRIVATE KEY", privateKeyDER); err != nil {
		return err
	}

	if p.CACertPath != "" {
		if err := writePEM(p.CACertPath, "CERTIFICATE", certDER); err != nil {
			return err
		}
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tlsutil: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
