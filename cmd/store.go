package main

import (
	"context"

	"github.com/mdas-ops/tddf-cli/internal/store"
)

// openStore connects to the configured database backend.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
}
