package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// ParseCertificatePEM parses the first certificate block in b.
func ParseCertificatePEM(b []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(b)
	if block == nil || block.Type != crtPEMType {
		return nil, errors.New("no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// NearExpiry reports whether the certificate expires within margin of now.
// Certificates that are already expired are near expiry too.
func NearExpiry(cert *x509.Certificate, margin time.Duration, now time.Time) bool {
	if cert == nil {
		return true
	}
	return !now.Add(margin).Before(cert.NotAfter)
}

// ClientTLSConfig assembles the mTLS client configuration for the broker
// connection from PEM-encoded credentials.
func ClientTLSConfig(certPEM, keyPEM []byte) (*tls.Config, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load client key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
