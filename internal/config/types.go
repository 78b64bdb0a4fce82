package config

// Config is the agent configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Device    DeviceConfig     `json:"device"`
	Store     *StoreConfig     `json:"store,omitempty"`
	Transport *TransportConfig `json:"transport,omitempty"`
	Renewal   RenewalConfig    `json:"renewal"`
	Logging   LoggingConfig    `json:"logging"`
}

// DeviceConfig identifies the device against the platform.
type DeviceConfig struct {
	Realm             string `json:"realm"`
	DeviceID          string `json:"device_id"`
	CredentialsSecret string `json:"credentials_secret"`
	PairingURL        string `json:"pairing_url"`

	// StateDir holds the device key and the issued client certificate.
	// Defaults to "./devlink-state".
	StateDir string `json:"state_dir,omitempty"`

	// ServerInterfaces lists server-owned property interfaces; inbound
	// messages on them are persisted to the property cache.
	ServerInterfaces []string `json:"server_interfaces,omitempty"`

	// RequestTimeout bounds each pairing API request.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// StoreConfig controls the local property cache.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./devlink-state/props.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TransportConfig controls the broker session. If omitted, defaults apply.
type TransportConfig struct {
	Keepalive      string `json:"keepalive,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	OpTimeout      string `json:"op_timeout,omitempty"`
	ReconnectEvery string `json:"reconnect_every,omitempty"`
}

// RenewalConfig controls scheduled certificate renewal.
//
// Schedule is a cron expression (default "0 3 * * *"). ExpiryMargin is how
// long before NotAfter the certificate is considered due (default "48h").
type RenewalConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"`
	ExpiryMargin string `json:"expiry_margin,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
