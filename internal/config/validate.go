package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the parts of the config that can be verified without
// touching the network or filesystem. It is also used as the reload
// validator, so a bad edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	d := cfg.Device
	if strings.TrimSpace(d.Realm) == "" {
		return errors.New("device.realm is required")
	}
	if strings.TrimSpace(d.DeviceID) == "" {
		return errors.New("device.device_id is required")
	}
	if strings.TrimSpace(d.CredentialsSecret) == "" {
		return errors.New("device.credentials_secret is required")
	}
	u, err := url.Parse(strings.TrimSpace(d.PairingURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("device.pairing_url: invalid URL %q", d.PairingURL)
	}
	if _, err := ParseDurationField("device.request_timeout", d.RequestTimeout); err != nil {
		return err
	}

	if s := cfg.Store; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("store.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("store.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if t := cfg.Transport; t != nil {
		for _, f := range []struct{ name, raw string }{
			{"transport.keepalive", t.Keepalive},
			{"transport.connect_timeout", t.ConnectTimeout},
			{"transport.op_timeout", t.OpTimeout},
			{"transport.reconnect_every", t.ReconnectEvery},
		} {
			if _, err := ParseDurationField(f.name, f.raw); err != nil {
				return err
			}
		}
	}

	if _, err := ParseDurationField("renewal.expiry_margin", cfg.Renewal.ExpiryMargin); err != nil {
		return err
	}

	return nil
}
