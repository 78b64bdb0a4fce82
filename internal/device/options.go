package device

import (
	"errors"
	"strings"
	"time"

	"devlink/internal/store"
)

// Options wires a Device. Realm, DeviceID, CredentialsSecret and
// PairingURL are required; everything else has a sensible default.
type Options struct {
	Realm             string
	DeviceID          string
	CredentialsSecret string
	PairingURL        string

	// StateDir holds the device key and issued certificate.
	// Defaults to "./devlink-state".
	StateDir string

	// Store caches properties locally. Nil disables caching.
	Store store.Store

	// ServerInterfaces lists server-owned property interfaces the device
	// subscribes to; inbound values on them are persisted.
	ServerInterfaces []string

	// ExpiryMargin is how long before NotAfter the client certificate is
	// considered due for renewal. Defaults to 48h.
	ExpiryMargin time.Duration

	// RequestTimeout bounds each pairing API request. Defaults to 30s.
	RequestTimeout time.Duration

	// Broker session tuning. Zero values take the transport defaults.
	Keepalive      time.Duration
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	ReconnectEvery time.Duration
}

func (o *Options) validate() error {
	if strings.TrimSpace(o.Realm) == "" {
		return errors.New("realm is required")
	}
	if strings.TrimSpace(o.DeviceID) == "" {
		return errors.New("device id is required")
	}
	if strings.TrimSpace(o.CredentialsSecret) == "" {
		return errors.New("credentials secret is required")
	}
	if strings.TrimSpace(o.PairingURL) == "" {
		return errors.New("pairing URL is required")
	}
	if strings.TrimSpace(o.StateDir) == "" {
		o.StateDir = "./devlink-state"
	}
	if o.ExpiryMargin <= 0 {
		o.ExpiryMargin = 48 * time.Hour
	}
	return nil
}
