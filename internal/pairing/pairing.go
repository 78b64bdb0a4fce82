// Package pairing talks to the platform's pairing REST API: it exchanges a
// certificate signing request for a client TLS certificate and discovers
// the broker the device should connect to.
package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "devlink/pkg/logx"
)

var (
	ErrInvalidURL         = errors.New("invalid pairing URL")
	ErrUnexpectedResponse = errors.New("pairing API response has an unexpected shape")
)

// APIError is a non-success response from the pairing API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pairing API returned status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// BrokerInfo is the device status reported by the pairing API.
type BrokerInfo struct {
	BrokerURL string
	Version   string
	Status    string
}

type Config struct {
	BaseURL           string // pairing API root, with or without a trailing slash
	Realm             string
	DeviceID          string
	CredentialsSecret string
	Timeout           time.Duration // per-request; 0 means 30s
}

// Client is a pairing API client for a single device.
type Client struct {
	base     *url.URL
	realm    string
	deviceID string
	secret   string

	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Realm) == "" {
		return nil, errors.New("realm is required")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("device id is required")
	}
	if strings.TrimSpace(cfg.CredentialsSecret) == "" {
		return nil, errors.New("credentials secret is required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, base.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:     base,
		realm:    cfg.Realm,
		deviceID: cfg.DeviceID,
		secret:   cfg.CredentialsSecret,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}, nil
}

// API responses are wrapped in a {"data": ...} envelope.
type apiEnvelope struct {
	Data apiData `json:"data"`
}

type apiData struct {
	// credentials response
	ClientCrt string `json:"client_crt"`

	// device status response
	Version   string        `json:"version"`
	Status    string        `json:"status"`
	Protocols *apiProtocols `json:"protocols"`
}

type apiProtocols struct {
	MQTTV1 *apiMQTTV1 `json:"mqtt_v1"`
}

type apiMQTTV1 struct {
	BrokerURL string `json:"broker_url"`
}

// ObtainCredentials sends the device CSR and returns the PEM client
// certificate issued for it.
func (c *Client) ObtainCredentials(ctx context.Context, csrPEM []byte) ([]byte, error) {
	// Building from segments keeps behavior identical whether or not the
	// configured base URL carries a trailing slash.
	u := c.base.JoinPath("v1", c.realm, "devices", c.deviceID, "protocols", "mqtt_v1", "credentials")

	body, err := json.Marshal(map[string]any{
		"data": map[string]string{"csr": string(csrPEM)},
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("requesting client certificate", logx.String("device_id", c.deviceID))

	env, err := c.do(ctx, http.MethodPost, u, body, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.Data.ClientCrt) == "" {
		return nil, ErrUnexpectedResponse
	}
	return []byte(env.Data.ClientCrt), nil
}

// BrokerInfo fetches the device status, including the broker URL the
// device should connect to.
func (c *Client) BrokerInfo(ctx context.Context) (BrokerInfo, error) {
	u := c.base.JoinPath("v1", c.realm, "devices", c.deviceID)

	env, err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return BrokerInfo{}, err
	}
	p := env.Data.Protocols
	if p == nil || p.MQTTV1 == nil || strings.TrimSpace(p.MQTTV1.BrokerURL) == "" {
		return BrokerInfo{}, ErrUnexpectedResponse
	}
	return BrokerInfo{
		BrokerURL: p.MQTTV1.BrokerURL,
		Version:   env.Data.Version,
		Status:    env.Data.Status,
	}, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte, wantStatus int) (*apiEnvelope, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pairing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return &env, nil
}
