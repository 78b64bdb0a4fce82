package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "devlink/pkg/logx"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:           baseURL,
		Realm:             "myrealm",
		DeviceID:          "mydevice",
		CredentialsSecret: "s3cret",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing realm", cfg: Config{BaseURL: "https://x", DeviceID: "d", CredentialsSecret: "s"}},
		{name: "missing device id", cfg: Config{BaseURL: "https://x", Realm: "r", CredentialsSecret: "s"}},
		{name: "missing secret", cfg: Config{BaseURL: "https://x", Realm: "r", DeviceID: "d"}},
		{name: "bad scheme", cfg: Config{BaseURL: "ftp://x", Realm: "r", DeviceID: "d", CredentialsSecret: "s"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestObtainCredentials(t *testing.T) {
	t.Parallel()
	const wantPath = "/v1/myrealm/devices/mydevice/protocols/mqtt_v1/credentials"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("authorization = %q", got)
		}
		var body struct {
			Data struct {
				CSR string `json:"csr"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if !strings.Contains(body.Data.CSR, "CERTIFICATE REQUEST") {
			t.Errorf("csr = %q", body.Data.CSR)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"client_crt":"-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----"}}`))
	}))
	defer srv.Close()

	// Trailing slash on the base URL must not change the request path.
	for _, base := range []string{srv.URL, srv.URL + "/"} {
		c := newTestClient(t, base)
		crt, err := c.ObtainCredentials(context.Background(), []byte("-----BEGIN CERTIFICATE REQUEST-----"))
		if err != nil {
			t.Fatalf("ObtainCredentials(base=%q): %v", base, err)
		}
		if !strings.Contains(string(crt), "BEGIN CERTIFICATE") {
			t.Fatalf("certificate = %q", crt)
		}
	}
}

func TestObtainCredentialsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":{"detail":"Unauthorized"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ObtainCredentials(context.Background(), []byte("csr"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "Unauthorized") {
		t.Fatalf("Body = %q", apiErr.Body)
	}
}

func TestObtainCredentialsUnexpectedShape(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.ObtainCredentials(context.Background(), []byte("csr")); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestBrokerInfo(t *testing.T) {
	t.Parallel()
	const wantPath = "/v1/myrealm/devices/mydevice"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"data":{"version":"1.1.1","status":"confirmed","protocols":{"mqtt_v1":{"broker_url":"mqtts://broker.example.com:8883"}}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.BrokerInfo(context.Background())
	if err != nil {
		t.Fatalf("BrokerInfo: %v", err)
	}
	if info.BrokerURL != "mqtts://broker.example.com:8883" {
		t.Fatalf("BrokerURL = %q", info.BrokerURL)
	}
	if info.Version != "1.1.1" || info.Status != "confirmed" {
		t.Fatalf("info = %+v", info)
	}
}

func TestBrokerInfoMissingProtocols(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"version":"1.1.1","status":"confirmed"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.BrokerInfo(context.Background()); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestBrokerInfoAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "device not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.BrokerInfo(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 *APIError", err)
	}
}
