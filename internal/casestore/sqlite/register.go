package sqlite

import (
	"context"

	"amcache/internal/casestore"
	"amcache/internal/casestore/sqlstore"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

// wrappedStore ties the close function returned by NewStore to Close.
type wrappedStore struct {
	*sqlstore.Store
	closeFn func()
}

// Close implements casestore.Store.Close.
func (w *wrappedStore) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

var _ casestore.Store = (*wrappedStore)(nil)

func init() {
	casestore.Register("sqlite", func(ctx context.Context, cfg casestore.Config) (casestore.Store, error) {
		s, closeFn, err := newStore(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedStore{Store: s, closeFn: closeFn}, nil
	})
}
