package mysql

import (
	"context"

	"amcache/internal/casestore"
	"amcache/internal/casestore/sqlstore"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

var _ casestore.Store = (*wrappedStore)(nil)

// init registers the "mysql" backend with the factory.
func init() {
	casestore.Register("mysql", func(ctx context.Context, cfg casestore.Config) (casestore.Store, error) {
		s, closeFn, err := newStore(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedStore{Store: s, closeFn: closeFn}, nil
	})
}

// wrappedStore adapts *sqlstore.Store and provides Close.
type wrappedStore struct {
	*sqlstore.Store
	closeFn func()
}

// Close closes the underlying connection pool.
func (w *wrappedStore) Close() error {
	w.closeFn()
	return nil
}
