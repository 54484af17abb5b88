package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed server certificate and key to dir
func writeSelfSigned(t *testing.T, dir string, notAfter time.Time) (string, string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "beacon.local"},
		DNSNames:     []string{"beacon.local", "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certPath, keyPath
}

func TestLoadKeyPair(t *testing.T) {
	dir := t.TempDir()
	notAfter := time.Now().Add(90 * 24 * time.Hour).Truncate(time.Second)
	certPath, keyPath := writeSelfSigned(t, dir, notAfter)

	cert, err := LoadKeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "beacon.local", cert.Leaf.Subject.CommonName)
	assert.True(t, GetCertExpiry(cert.Leaf).Equal(notAfter.UTC()))
	assert.False(t, CertNeedsRotation(cert.Leaf))

	cfg := ServerTLSConfig(cert)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.Len(t, cfg.Certificates, 1)
}

func TestLoadKeyPairErrors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, time.Now().Add(time.Hour))

	_, err := LoadKeyPair(filepath.Join(dir, "missing.crt"), keyPath)
	assert.Error(t, err)

	_, err = LoadKeyPair(certPath, filepath.Join(dir, "missing.key"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.key")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	_, err = LoadKeyPair(certPath, garbage)
	assert.Error(t, err)
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		needsRot bool
	}{
		{"expiring in 1 day", time.Now().Add(24 * time.Hour), true},
		{"expiring in 29 days", time.Now().Add(29 * 24 * time.Hour), true},
		{"expiring in 31 days", time.Now().Add(31 * 24 * time.Hour), false},
		{"expiring in 60 days", time.Now().Add(60 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := &x509.Certificate{NotAfter: tt.notAfter}
			assert.Equal(t, tt.needsRot, CertNeedsRotation(cert))
		})
	}

	assert.True(t, CertNeedsRotation(nil), "nil certificate should need rotation")
}

func TestGetCertExpiry(t *testing.T) {
	expectedExpiry := time.Now().Add(90 * 24 * time.Hour)
	cert := &x509.Certificate{NotAfter: expectedExpiry}

	assert.True(t, GetCertExpiry(cert).Equal(expectedExpiry))
	assert.True(t, GetCertExpiry(nil).IsZero())
}

func TestGetCertTimeRemaining(t *testing.T) {
	expectedRemaining := 45 * 24 * time.Hour
	cert := &x509.Certificate{NotAfter: time.Now().Add(expectedRemaining)}

	// Allow 1 second tolerance for test execution time
	assert.InDelta(t, float64(expectedRemaining), float64(GetCertTimeRemaining(cert)), float64(time.Second))
	assert.Equal(t, time.Duration(0), GetCertTimeRemaining(nil))
}

func TestGetCertInfo(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir(), time.Now().Add(24*time.Hour))
	cert, err := LoadKeyPair(certPath, keyPath)
	require.NoError(t, err)

	info := GetCertInfo(cert.Leaf)
	assert.Equal(t, "beacon.local", info["subject"])
	assert.Equal(t, "beacon.local", info["issuer"])
	assert.Equal(t, []string{"beacon.local", "localhost"}, info["dns_names"])
	assert.Equal(t, []string{"ServerAuth"}, info["ext_key_usage"])

	_, hasError := GetCertInfo(nil)["error"]
	assert.True(t, hasError)
}
