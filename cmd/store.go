package main

import (
	"context"

	"github.com/sells-group/rhof/internal/store"
)

// initStore opens the backend cfg.Store.Driver() selects, matching the
// scheme-sniffing rule in internal/config.StoreConfig.Driver.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver() {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PoolConfig{})
	default:
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "file:rhof.db"
		}
		return store.NewSQLite(dsn)
	}
}
