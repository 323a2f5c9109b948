package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay/internal/config"
	"github.com/mailrelay/mailrelay/internal/core"
)

func TestResolveDSN(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "nested", "mailrelay.db")

	tests := []struct {
		name  string
		cfg   config.StoreConfig
		dsn   string
		local bool
	}{
		{
			name: "url with token",
			cfg:  config.StoreConfig{URL: "libsql://example.turso.io", AuthToken: "token123"},
			dsn:  "libsql://example.turso.io?authToken=token123",
		},
		{
			name: "url keeps existing query",
			cfg:  config.StoreConfig{URL: "libsql://example.turso.io?foo=bar", AuthToken: "token123"},
			dsn:  "libsql://example.turso.io?authToken=token123&foo=bar",
		},
		{
			name: "url wins over path",
			cfg:  config.StoreConfig{URL: "libsql://db.example", Path: "/tmp/ignored.db"},
			dsn:  "libsql://db.example",
		},
		{
			name:  "file prefix",
			cfg:   config.StoreConfig{Path: "file:./mailrelay.db"},
			dsn:   "file:./mailrelay.db",
			local: true,
		},
		{
			name:  "memory",
			cfg:   config.StoreConfig{Path: ":memory:"},
			dsn:   ":memory:",
			local: true,
		},
		{
			name:  "bare path",
			cfg:   config.StoreConfig{Path: nested},
			dsn:   "file:" + nested,
			local: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := resolveDSN(tt.cfg)
			require.NoError(t, err)
			require.Equal(t, tt.dsn, tgt.dsn)
			require.Equal(t, tt.local, tgt.local)
		})
	}

	require.DirExists(t, filepath.Dir(nested))

	_, err := resolveDSN(config.StoreConfig{})
	require.Error(t, err)
}

func TestDeliveryQueryWhereClause(t *testing.T) {
	where, args := DeliveryQuery{}.whereClause()
	require.Empty(t, where)
	require.Empty(t, args)

	where, args = DeliveryQuery{Identity: " 10.0.0.1 ", Status: core.DeliveryFailed}.whereClause()
	require.Equal(t, "WHERE identity = ? AND status = ?", where)
	require.Equal(t, []any{"10.0.0.1", "failed"}, args)
}

func TestNilStore(t *testing.T) {
	var s *Store
	require.NoError(t, s.Close())
	require.Empty(t, s.Driver())
	require.Error(t, s.Migrate(context.Background()))
	require.Error(t, s.CheckHealth(context.Background()))
	require.Error(t, s.RecordDelivery(context.Background(), core.DeliveryRecord{}))
	_, err := s.ListDeliveries(context.Background(), DeliveryQuery{})
	require.Error(t, err)
}
