package device

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"devlink/internal/eventbus"
	logx "devlink/pkg/logx"
)

func TestOptionsValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing realm", opts: Options{DeviceID: "d", CredentialsSecret: "s", PairingURL: "https://x"}},
		{name: "missing device id", opts: Options{Realm: "r", CredentialsSecret: "s", PairingURL: "https://x"}},
		{name: "missing secret", opts: Options{Realm: "r", DeviceID: "d", PairingURL: "https://x"}},
		{name: "missing pairing url", opts: Options{Realm: "r", DeviceID: "d", CredentialsSecret: "s"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts, nil, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSplitTopic(t *testing.T) {
	t.Parallel()
	d, err := New(Options{
		Realm:             "myrealm",
		DeviceID:          "mydevice",
		CredentialsSecret: "s",
		PairingURL:        "https://api.example.com",
		StateDir:          t.TempDir(),
	}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		topic string
		iface string
		path  string
		ok    bool
	}{
		{topic: "myrealm/mydevice/com.example.Settings/mode", iface: "com.example.Settings", path: "/mode", ok: true},
		{topic: "myrealm/mydevice/com.example.Settings/a/b", iface: "com.example.Settings", path: "/a/b", ok: true},
		{topic: "otherrealm/mydevice/com.example.Settings/mode", ok: false},
		{topic: "myrealm/otherdevice/com.example.Settings/mode", ok: false},
		{topic: "myrealm/mydevice/noslash", ok: false},
	}
	for _, tt := range tests {
		iface, path, ok := d.splitTopic(tt.topic)
		if ok != tt.ok || iface != tt.iface || path != tt.path {
			t.Fatalf("splitTopic(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.topic, iface, path, ok, tt.iface, tt.path, tt.ok)
		}
	}
}

func TestTopicFor(t *testing.T) {
	t.Parallel()
	d, err := New(Options{
		Realm:             "myrealm",
		DeviceID:          "mydevice",
		CredentialsSecret: "s",
		PairingURL:        "https://api.example.com",
		StateDir:          t.TempDir(),
	}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := d.topicFor("com.example.X", "/v"); got != "myrealm/mydevice/com.example.X/v" {
		t.Fatalf("topicFor = %q", got)
	}
	// Missing leading slash is tolerated.
	if got := d.topicFor("com.example.X", "v"); got != "myrealm/mydevice/com.example.X/v" {
		t.Fatalf("topicFor = %q", got)
	}
}

// issueCertForCSR signs the CSR's public key with a throwaway CA, like the
// pairing API would.
func issueCertForCSR(t *testing.T, csrPEM string, notAfter time.Time) string {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		t.Fatal("request carried no CSR PEM block")
	}
	req, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %v", err)
	}

	ca := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      req.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, req.PublicKey, caKey)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestEnsureCredentials(t *testing.T) {
	t.Parallel()
	var issued atomic.Int32
	notAfter := time.Now().Add(90 * 24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				CSR string `json:"csr"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode pairing request: %v", err)
		}
		issued.Add(1)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"client_crt": issueCertForCSR(t, body.Data.CSR, notAfter)},
		})
	}))
	defer srv.Close()

	stateDir := t.TempDir()
	d, err := New(Options{
		Realm:             "myrealm",
		DeviceID:          "mydevice",
		CredentialsSecret: "s3cret",
		PairingURL:        srv.URL,
		StateDir:          stateDir,
	}, eventbus.New(), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := d.EnsureCredentials(ctx); err != nil {
		t.Fatalf("EnsureCredentials: %v", err)
	}
	if got := issued.Load(); got != 1 {
		t.Fatalf("pairing requests = %d, want 1", got)
	}
	for _, name := range []string{keyFile, certFile} {
		if _, err := os.Stat(stateDir + "/" + name); err != nil {
			t.Fatalf("expected %s in state dir: %v", name, err)
		}
	}
	if got := d.CertificateNotAfter(); got.IsZero() {
		t.Fatal("CertificateNotAfter is zero after pairing")
	}

	// Second call finds a fresh certificate and does not re-pair.
	if err := d.EnsureCredentials(ctx); err != nil {
		t.Fatalf("EnsureCredentials(second): %v", err)
	}
	if got := issued.Load(); got != 1 {
		t.Fatalf("pairing requests after second call = %d, want 1", got)
	}

	// A tight expiry margin forces a renewal.
	d.opts.ExpiryMargin = 365 * 24 * time.Hour
	if err := d.EnsureCredentials(ctx); err != nil {
		t.Fatalf("EnsureCredentials(renew): %v", err)
	}
	if got := issued.Load(); got != 2 {
		t.Fatalf("pairing requests after renewal = %d, want 2", got)
	}

	if tlsCfg, err := d.clientTLS(); err != nil || len(tlsCfg.Certificates) != 1 {
		t.Fatalf("clientTLS = %+v, %v", tlsCfg, err)
	}
}
