// File: internal/security/ca_test.go
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCA(t *testing.T) {
	ca, err := NewCA("", 24*time.Hour)
	require.NoError(t, err)

	assert.True(t, ca.Cert.IsCA, "the generated certificate must be a CA")
	assert.Contains(t, ca.Cert.Subject.Organization, DefaultOrganization)
	assert.True(t, ca.Cert.NotAfter.After(time.Now().Add(23*time.Hour)))

	// Self-signed.
	require.NoError(t, ca.Cert.CheckSignature(ca.Cert.SignatureAlgorithm, ca.Cert.RawTBSCertificate, ca.Cert.Signature))

	// A leaf signed by the CA verifies against its pool.
	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "cdn.example"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"cdn.example"},
	}
	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.CreateCertificate(rand.Reader, serverTemplate, ca.Cert, &serverKey.PublicKey, ca.PrivateKey)
	require.NoError(t, err)
	serverCert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	chains, err := serverCert.Verify(x509.VerifyOptions{Roots: ca.CertPool, DNSName: "cdn.example"})
	require.NoError(t, err)
	assert.Len(t, chains, 1)
}

func TestNewCA_RejectsNonPositiveValidity(t *testing.T) {
	_, err := NewCA("test", 0)
	assert.Error(t, err)
}

func TestCA_PEMFormsAKeyPair(t *testing.T) {
	ca, err := NewCA("test", time.Hour)
	require.NoError(t, err)

	pair, err := tls.X509KeyPair(ca.CertPEM(), ca.KeyPEM())
	require.NoError(t, err)
	assert.Len(t, pair.Certificate, 1)
}

func TestCA_WriteFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca", "cert.pem")
	keyPath := filepath.Join(dir, "ca", "key.pem")

	ca, err := NewCA("test", time.Hour)
	require.NoError(t, err)
	require.NoError(t, ca.WriteFiles(certPath, keyPath))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	keyPEM, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	_, err = tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	t.Run("existing files are kept", func(t *testing.T) {
		other, err := NewCA("other", time.Hour)
		require.NoError(t, err)
		assert.Error(t, other.WriteFiles(certPath, keyPath))

		after, err := os.ReadFile(certPath)
		require.NoError(t, err)
		assert.Equal(t, certPEM, after)
	})
}
