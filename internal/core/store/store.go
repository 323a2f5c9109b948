// Package store persists the delivery log in libsql (embedded SQLite file or
// a remote Turso database).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/mailrelay/mailrelay/internal/config"
)

const (
	driverLibsql = "libsql"
	memoryDSN    = ":memory:"

	// busyTimeoutMillis is how long a local writer waits on a locked file.
	busyTimeoutMillis = 5000
)

var errNotInitialized = errors.New("store is not initialized")

// Store wraps the database connection holding the delivery log.
type Store struct {
	DB     *sql.DB
	driver string
}

// target is a resolved connection string. Local targets are embedded files
// or memory databases owned by this process.
type target struct {
	dsn   string
	local bool
}

// Open connects to the configured database and verifies it answers.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tgt, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}
	if tgt.local {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{DB: db, driver: driver}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CheckHealth pings the database. It satisfies handlers.Checker.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// configureLocal serializes writers on one connection and enables WAL so
// readers (deliveries list) do not block the running relay.
func configureLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	var timeout int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis)).Scan(&timeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// resolveDSN turns store settings into a libsql connection string. A url
// wins over a path; bare paths become file: DSNs and get their directory
// created.
func resolveDSN(cfg config.StoreConfig) (target, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		return target{dsn: dsn}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("store path or url is required")
	case path == memoryDSN:
		return target{dsn: path, local: true}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		parsed, err := url.Parse(path)
		if err != nil {
			return target{}, fmt.Errorf("invalid store path: %w", err)
		}
		local := parsed.Path
		if local == "" {
			local = parsed.Opaque
		}
		if err := ensureDir(strings.TrimPrefix(local, "//")); err != nil {
			return target{}, err
		}
		return target{dsn: path, local: true}, nil
	default:
		if err := ensureDir(path); err != nil {
			return target{}, err
		}
		return target{dsn: "file:" + filepath.Clean(path), local: true}, nil
	}
}

// withAuthToken adds authToken to a remote URL unless it already has one.
func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if path == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 like the XDG data dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
