package store

import (
	"context"
	"errors"
	"strings"

	"devlink/internal/property"
	logx "devlink/pkg/logx"
)

// Store is the property persistence API used by the device facade.
type Store interface {
	// StoreProp upserts the encoded payload for (interface, path).
	// An empty payload records the property as unset.
	StoreProp(ctx context.Context, interfaceName, path string, payload []byte, major int32) error

	// LoadProp returns the cached individual value for (interface, path).
	// It returns (nil, nil) when the row is absent. A row written under a
	// different major version is deleted and treated as absent.
	LoadProp(ctx context.Context, interfaceName, path string, major int32) (*property.Payload, error)

	DeleteProp(ctx context.Context, interfaceName, path string) error

	// Clear removes every cached property.
	Clear(ctx context.Context) error

	// LoadAll returns every cached row with its interface, path and major version.
	LoadAll(ctx context.Context) ([]StoredProp, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
