package tlsutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned_WritesCertAndKey(t *testing.T) {
	dir := t.TempDir()
	params := CertParams{
		CommonName:  "localhost",
		DNSNames:    []string{"localhost"},
		IPAddresses: []string{"127.0.0.1"},
		NotAfter:    time.Now().Add(24 * time.Hour),
		CertPath:    filepath.Join(dir, "tls.crt"),
		KeyPath:     filepath.Join(dir, "tls.key"),
		CACertPath:  filepath.Join(dir, "tls_ca.crt"),
	}
	require.NoError(t, GenerateSelfSigned(params))
	require.FileExists(t, params.CertPath)
	require.FileExists(t, params.KeyPath)
	require.FileExists(t, params.CACertPath)
}

func TestSetup_DisabledReturnsNil(t *testing.T) {
	cfg, err := Setup(Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestSetup_AutoGeneratesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	tlsCfg, err := Setup(Config{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
	})
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	require.FileExists(t, filepath.Join(dir, "tls.crt"))

	cert, err := tlsCfg.GetCertificate(nil)
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestSetup_EnabledWithoutCertConfigIsAnError(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	require.Error(t, err)
}

func TestSafeReadFile_RejectsEscapingBaseDir(t *testing.T) {
	dir := t.TempDir()
	_, err := safeReadFile(dir, filepath.Join(dir, "..", "escaped.crt"))
	require.Error(t, err)
}
