package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "devlink/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes the credentials secret).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Device (never log the secret)
	od, nd := oldCfg.Device, newCfg.Device
	if od.Realm != nd.Realm ||
		od.DeviceID != nd.DeviceID ||
		strings.TrimSpace(od.PairingURL) != strings.TrimSpace(nd.PairingURL) ||
		strings.TrimSpace(od.StateDir) != strings.TrimSpace(nd.StateDir) ||
		strings.TrimSpace(od.RequestTimeout) != strings.TrimSpace(nd.RequestTimeout) ||
		!reflect.DeepEqual(od.ServerInterfaces, nd.ServerInterfaces) ||
		(strings.TrimSpace(od.CredentialsSecret) != "") != (strings.TrimSpace(nd.CredentialsSecret) != "") {
		changed = append(changed, "device")
		attrs = append(attrs,
			logx.String("device.realm", nd.Realm),
			logx.String("device.device_id", nd.DeviceID),
			logx.String("device.pairing_url", strings.TrimSpace(nd.PairingURL)),
			logx.Int("device.server_interfaces", len(nd.ServerInterfaces)),
			logx.Bool("device.secret_set", strings.TrimSpace(nd.CredentialsSecret) != ""),
		)
	}

	// Store (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Store; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Store; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", nDriver),
			logx.Bool("store.path_set", nPathSet),
			logx.String("store.busy_timeout", nBusy),
		)
	}

	// Transport
	oT := derefTransport(oldCfg.Transport)
	nT := derefTransport(newCfg.Transport)
	if oT != nT {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.keepalive", strings.TrimSpace(nT.Keepalive)),
			logx.String("transport.reconnect_every", strings.TrimSpace(nT.ReconnectEvery)),
		)
	}

	// Renewal
	if oldCfg.Renewal != newCfg.Renewal {
		changed = append(changed, "renewal")
		attrs = append(attrs,
			logx.Bool("renewal.enabled", newCfg.Renewal.Enabled),
			logx.String("renewal.schedule", strings.TrimSpace(newCfg.Renewal.Schedule)),
			logx.String("renewal.expiry_margin", strings.TrimSpace(newCfg.Renewal.ExpiryMargin)),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTransport(t *TransportConfig) TransportConfig {
	if t == nil {
		return TransportConfig{}
	}
	return *t
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
