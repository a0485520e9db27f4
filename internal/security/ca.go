// File: internal/security/ca.go
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// DefaultOrganization names the generated interception CA.
const DefaultOrganization = "Loadwatcher Interception CA"

// CA is a self-signed certificate authority the watch proxy uses to
// intercept TLS so it can read the request metadata of HTTPS loads.
type CA struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	CertPool   *x509.CertPool
}

// NewCA generates a fresh CA valid for the given duration.
func NewCA(organization string, validity time.Duration) (*CA, error) {
	if organization == "" {
		organization = DefaultOrganization
	}
	if validity <= 0 {
		return nil, fmt.Errorf("validity must be positive, got %s", validity)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   organization,
		},
		// Backdated to tolerate clock skew on clients.
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	// Self-signed: the template is both subject and issuer.
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(cert)

	return &CA{
		Cert:       cert,
		PrivateKey: privateKey,
		CertPool:   certPool,
	}, nil
}

// CertPEM returns the certificate PEM encoded.
func (ca *CA) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
}

// KeyPEM returns the PKCS#1 private key PEM encoded.
func (ca *CA) KeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(ca.PrivateKey)})
}

// WriteFiles writes the certificate and key. Existing files are never
// overwritten; the key is readable by the owner only.
func (ca *CA) WriteFiles(certPath, keyPath string) error {
	if err := writeNew(certPath, ca.CertPEM(), 0o644); err != nil {
		return err
	}
	if err := writeNew(keyPath, ca.KeyPEM(), 0o600); err != nil {
		_ = os.Remove(certPath)
		return err
	}
	return nil
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
