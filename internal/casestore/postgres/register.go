package postgres

import (
	"context"

	"amcache/internal/casestore"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

func init() {
	casestore.Register("postgres", func(ctx context.Context, cfg casestore.Config) (casestore.Store, error) {
		s, _, err := newStore(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		// Store.Close releases the pool; pgxpool.Close is idempotent.
		return s, nil
	})
}
