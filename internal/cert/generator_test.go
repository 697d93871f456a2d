package cert

import (
	"crypto/tls"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSelfSigned(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	certPath, keyPath, err := EnsureSelfSigned(dir)
	require.NoError(t, err)
	require.NoError(t, ValidateCertificateFiles(certPath, keyPath))

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	before, err := os.ReadFile(certPath)
	require.NoError(t, err)

	// A valid pair is reused.
	_, _, err = EnsureSelfSigned(dir)
	require.NoError(t, err)
	after, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	info, err := GetCertificateInfo(certPath)
	require.NoError(t, err)
	assert.Contains(t, info, "themerizr preview")
	assert.Contains(t, info, "localhost")
}

func TestEnsureSelfSignedReplacesBrokenPair(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFileName), []byte("junk"), 0o644))

	certPath, keyPath, err := EnsureSelfSigned(dir)
	require.NoError(t, err)
	assert.NoError(t, ValidateCertificateFiles(certPath, keyPath))
}

func TestValidateMismatchedKey(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	certA, _, err := EnsureSelfSigned(a)
	require.NoError(t, err)
	_, keyB, err := EnsureSelfSigned(b)
	require.NoError(t, err)

	err = ValidateCertificateFiles(certA, keyB)
	assert.ErrorContains(t, err, "does not match")
}

func TestValidateRejectsForeignFormats(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, err := EnsureSelfSigned(dir)
	require.NoError(t, err)

	der := filepath.Join(dir, "raw.der")
	data, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	require.NoError(t, os.WriteFile(der, block.Bytes, 0o644))
	assert.ErrorContains(t, ValidateCertificateFiles(der, keyPath), "not a PEM certificate")

	pkcs8 := filepath.Join(dir, "pkcs8.key")
	require.NoError(t, os.WriteFile(pkcs8, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0}}), 0o600))
	assert.ErrorContains(t, ValidateCertificateFiles(certPath, pkcs8), "not a PEM RSA private key")

	_, err = GetCertificateInfo(der)
	assert.Error(t, err)
}
