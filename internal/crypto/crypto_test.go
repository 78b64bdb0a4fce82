package crypto

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func TestKeyPEMRoundTrip(t *testing.T) {
	t.Parallel()
	key, err := NewDeviceKey()
	if err != nil {
		t.Fatalf("NewDeviceKey: %v", err)
	}
	b, err := EncodeKeyPEM(key)
	if err != nil {
		t.Fatalf("EncodeKeyPEM: %v", err)
	}
	got, err := DecodeKeyPEM(b)
	if err != nil {
		t.Fatalf("DecodeKeyPEM: %v", err)
	}
	if !got.Equal(key) {
		t.Fatal("decoded key differs from original")
	}
}

func TestDecodeKeyPEMRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := DecodeKeyPEM([]byte("not a pem")); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})
	if _, err := DecodeKeyPEM(block); err == nil {
		t.Fatal("expected error for wrong block type")
	}
}

func TestNewCSR(t *testing.T) {
	t.Parallel()
	key, err := NewDeviceKey()
	if err != nil {
		t.Fatalf("NewDeviceKey: %v", err)
	}
	csrPEM, err := NewCSR(key, "myrealm", "mydevice")
	if err != nil {
		t.Fatalf("NewCSR: %v", err)
	}

	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		t.Fatalf("unexpected PEM block: %+v", block)
	}
	req, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %v", err)
	}
	if err := req.CheckSignature(); err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if req.Subject.CommonName != "myrealm/mydevice" {
		t.Fatalf("CommonName = %q, want myrealm/mydevice", req.Subject.CommonName)
	}
}

func selfSigned(t *testing.T, notAfter time.Time) ([]byte, []byte) {
	t.Helper()
	key, err := NewDeviceKey()
	if err != nil {
		t.Fatalf("NewDeviceKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "myrealm/mydevice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		t.Fatalf("EncodeKeyPEM: %v", err)
	}
	return certPEM, keyPEM
}

func TestNearExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()

	certPEM, _ := selfSigned(t, now.Add(30*24*time.Hour))
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}

	if NearExpiry(cert, 48*time.Hour, now) {
		t.Fatal("certificate with 30d left reported near expiry at 48h margin")
	}
	if !NearExpiry(cert, 60*24*time.Hour, now) {
		t.Fatal("certificate with 30d left not reported near expiry at 60d margin")
	}
	if !NearExpiry(nil, time.Hour, now) {
		t.Fatal("nil certificate should always be near expiry")
	}

	expiredPEM, _ := selfSigned(t, now.Add(-time.Minute))
	expired, err := ParseCertificatePEM(expiredPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}
	if !NearExpiry(expired, 0, now) {
		t.Fatal("expired certificate not reported near expiry")
	}
}

func TestClientTLSConfig(t *testing.T) {
	t.Parallel()
	certPEM, keyPEM := selfSigned(t, time.Now().Add(time.Hour))
	cfg, err := ClientTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates = %d, want 1", len(cfg.Certificates))
	}

	if _, err := ClientTLSConfig([]byte("junk"), keyPEM); err == nil {
		t.Fatal("expected error for junk certificate")
	}
}
