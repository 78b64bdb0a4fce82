package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("property store disabled")

// Config configures the property store.
//
// Driver values:
//   - "sqlite": SQLite database file (the default backend)
//
// If Driver is empty or "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StoredProp is a raw cached property row.
// Value holds the encoded wire payload (empty means unset).
type StoredProp struct {
	Interface string
	Path      string
	Value     []byte
	Major     int32
}
