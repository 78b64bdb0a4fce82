package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devlink/internal/property"
	logx "devlink/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) StoreProp(ctx context.Context, interfaceName, path string, payload []byte, major int32) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	s.log.Debug("storing property",
		logx.String("interface", interfaceName),
		logx.String("path", path),
		logx.Int("payload_len", len(payload)),
	)
	if len(payload) == 0 {
		s.log.Debug("recording unset", logx.String("interface", interfaceName), logx.String("path", path))
	}
	if payload == nil {
		payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO propcache(interface, path, value, interface_major) VALUES(?,?,?,?)
		 ON CONFLICT(interface, path) DO UPDATE SET value=excluded.value, interface_major=excluded.interface_major`,
		interfaceName, path, payload, major,
	)
	return err
}

func (s *sqliteStore) LoadProp(ctx context.Context, interfaceName, path string, major int32) (*property.Payload, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		value       []byte
		storedMajor int32
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, interface_major FROM propcache WHERE interface = ? AND path = ?`,
		interfaceName, path,
	).Scan(&value, &storedMajor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Trace("loaded property",
		logx.String("interface", interfaceName),
		logx.String("path", path),
		logx.Int("payload_len", len(value)),
	)

	// A row written under a different major version is stale: drop it.
	if storedMajor != major {
		if err := s.DeleteProp(ctx, interfaceName, path); err != nil {
			return nil, err
		}
		return nil, nil
	}

	p, err := property.Unmarshal(value)
	if err != nil {
		return nil, err
	}
	if p.Object != nil {
		return nil, fmt.Errorf("propcache %s%s: %w", interfaceName, path, property.ErrObjectInIndividual)
	}
	return &p, nil
}

func (s *sqliteStore) DeleteProp(ctx context.Context, interfaceName, path string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM propcache WHERE interface = ? AND path = ?`,
		interfaceName, path,
	)
	return err
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM propcache`)
	return err
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]StoredProp, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT interface, path, value, interface_major FROM propcache ORDER BY interface, path`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredProp
	for rows.Next() {
		var p StoredProp
		if err := rows.Scan(&p.Interface, &p.Path, &p.Value, &p.Major); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
