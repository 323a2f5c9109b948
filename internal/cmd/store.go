package cmd

import (
	"context"
	"errors"

	"github.com/mailrelay/mailrelay/internal/config"
	"github.com/mailrelay/mailrelay/internal/core/store"
)

// openStore opens and migrates the delivery log.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, errors.New("delivery log is disabled (store.enabled=false)")
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
