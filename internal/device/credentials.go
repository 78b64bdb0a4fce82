package device

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devlink/internal/crypto"
	"devlink/internal/eventbus"
	logx "devlink/pkg/logx"
)

const (
	keyFile  = "device.key"
	certFile = "device.crt"
)

func (d *Device) keyPath() string  { return filepath.Join(d.opts.StateDir, keyFile) }
func (d *Device) certPath() string { return filepath.Join(d.opts.StateDir, certFile) }

// EnsureCredentials makes sure a usable client certificate exists on disk:
// it generates the device key on first run, requests a certificate when
// none is present, and re-pairs when the current one is near expiry.
func (d *Device) EnsureCredentials(ctx context.Context) error {
	if err := os.MkdirAll(d.opts.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	key, created, err := d.loadOrCreateKey()
	if err != nil {
		return err
	}
	if created {
		d.log.Info("generated device key", logx.String("path", d.keyPath()))
	}

	cert, err := d.loadCertificate()
	if err == nil && !crypto.NearExpiry(cert, d.opts.ExpiryMargin, time.Now()) {
		d.setCert(cert)
		return nil
	}
	if cert != nil {
		d.log.Info("client certificate near expiry; re-pairing",
			logx.Time("not_after", cert.NotAfter),
			logx.Duration("margin", d.opts.ExpiryMargin),
		)
	}

	csr, err := crypto.NewCSR(key, d.opts.Realm, d.opts.DeviceID)
	if err != nil {
		return err
	}
	certPEM, err := d.pair.ObtainCredentials(ctx, csr)
	if err != nil {
		return fmt.Errorf("obtain credentials: %w", err)
	}
	parsed, err := crypto.ParseCertificatePEM(certPEM)
	if err != nil {
		return fmt.Errorf("issued certificate: %w", err)
	}
	if err := os.WriteFile(d.certPath(), certPEM, 0o600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}

	d.setCert(parsed)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeCredentials, Data: parsed.NotAfter})
	d.log.Info("client certificate issued", logx.Time("not_after", parsed.NotAfter))
	return nil
}

func (d *Device) loadOrCreateKey() (*ecdsa.PrivateKey, bool, error) {
	if b, err := os.ReadFile(d.keyPath()); err == nil {
		key, err := crypto.DecodeKeyPEM(b)
		if err != nil {
			return nil, false, fmt.Errorf("stored device key: %w", err)
		}
		return key, false, nil
	}

	key, err := crypto.NewDeviceKey()
	if err != nil {
		return nil, false, err
	}
	pemBytes, err := crypto.EncodeKeyPEM(key)
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(d.keyPath(), pemBytes, 0o600); err != nil {
		return nil, false, fmt.Errorf("write device key: %w", err)
	}
	return key, true, nil
}

func (d *Device) loadCertificate() (*x509.Certificate, error) {
	b, err := os.ReadFile(d.certPath())
	if err != nil {
		return nil, err
	}
	return crypto.ParseCertificatePEM(b)
}

func (d *Device) setCert(cert *x509.Certificate) {
	d.mu.Lock()
	d.cert = cert
	d.mu.Unlock()
}

// CertificateNotAfter reports the expiry of the current client certificate,
// or the zero time when no certificate is loaded.
func (d *Device) CertificateNotAfter() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cert == nil {
		return time.Time{}
	}
	return d.cert.NotAfter
}

func (d *Device) clientTLS() (*tls.Config, error) {
	certPEM, err := os.ReadFile(d.certPath())
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(d.keyPath())
	if err != nil {
		return nil, fmt.Errorf("read device key: %w", err)
	}
	return crypto.ClientTLSConfig(certPEM, keyPEM)
}
