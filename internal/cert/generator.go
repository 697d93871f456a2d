package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	certFileName = "preview.crt"
	keyFileName  = "preview.key"
)

// CertificateConfig holds configuration for certificate generation
type CertificateConfig struct {
	CommonName   string
	Organization string
	ValidityDays int
	KeySize      int
	DNSNames     []string
	IPAddresses  []net.IP
}

// DefaultConfig returns a config for serving the theme preview on the local machine.
func DefaultConfig() *CertificateConfig {
	return &CertificateConfig{
		CommonName:   "themerizr preview",
		Organization: "themerizr",
		ValidityDays: 365,
		KeySize:      2048,
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
}

// DefaultDir is where EnsureSelfSigned keeps its files when no directory is configured.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "themerizr"), nil
}

// EnsureSelfSigned returns a valid certificate/key pair in dir, generating
// a new one when the files are missing, expired or mismatched.
func EnsureSelfSigned(dir string) (certPath, keyPath string, err error) {
	certPath = filepath.Join(dir, certFileName)
	keyPath = filepath.Join(dir, keyFileName)
	if ValidateCertificateFiles(certPath, keyPath) == nil {
		return certPath, keyPath, nil
	}
	if err := GenerateSelfSignedCertificateFiles(DefaultConfig(), certPath, keyPath); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// GenerateSelfSignedCertificateFiles writes a PEM certificate and a PKCS#1 key.
func GenerateSelfSignedCertificateFiles(config *CertificateConfig, certPath, keyPath string) error {
	if config == nil {
		config = DefaultConfig()
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, config.KeySize)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now().UTC().Add(-5 * time.Minute)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   config.CommonName,
			Organization: []string{config.Organization},
		},
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(config.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              config.DNSNames,
		IPAddresses:           config.IPAddresses,
	}
	if pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey); err == nil {
		sum := sha1.Sum(pubDER)
		tmpl.SubjectKeyId = sum[:]
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create self-signed cert: %w", err)
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(certPath), err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(keyPath), err)
	}
	return nil
}

// ValidateCertificateFiles reports whether certPath and keyPath hold a
// currently valid PEM certificate and the PKCS#1 RSA key that signed it.
func ValidateCertificateFiles(certPath, keyPath string) error {
	cert, err := readCertificate(certPath)
	if err != nil {
		return err
	}
	if now := time.Now(); now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("certificate is outside its validity period (%v to %v)", cert.NotBefore, cert.NotAfter)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return fmt.Errorf("%s is not a PEM RSA private key", filepath.Base(keyPath))
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return fmt.Errorf("private key does not match certificate public key")
	}
	return nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s is not a PEM certificate", filepath.Base(path))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// GetCertificateInfo returns human-readable information about a certificate
func GetCertificateInfo(certPath string) (string, error) {
	cert, err := readCertificate(certPath)
	if err != nil {
		return "", err
	}

	var info strings.Builder
	fmt.Fprintf(&info, "Subject: %s\n", cert.Subject.String())
	fmt.Fprintf(&info, "Valid until: %s\n", cert.NotAfter.Format("2006-01-02 15:04:05"))
	if len(cert.DNSNames) > 0 {
		fmt.Fprintf(&info, "DNS Names: %s\n", strings.Join(cert.DNSNames, ", "))
	}
	return info.String(), nil
}
