package ingest

import (
	"context"

	"amcache/internal/catalog"
	"amcache/internal/projector"
)

// Catalog is the source-database surface a run needs.
type Catalog interface {
	projector.Source
	ListMatchingTables(ctx context.Context, names []string) ([]string, error)
	DescribeColumns(ctx context.Context, table string) ([]catalog.ColumnDescriptor, error)
	Close() error
}

// OpenFunc opens the source database at path.
type OpenFunc func(ctx context.Context, path string) (Catalog, error)

// OpenSQLite opens path with catalog.Open.
func OpenSQLite(ctx context.Context, path string) (Catalog, error) {
	c, err := catalog.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return sqliteCatalog{c}, nil
}

type sqliteCatalog struct {
	*catalog.Catalog
}

func (s sqliteCatalog) Rows(ctx context.Context, table string) (projector.Rows, error) {
	rs, err := s.Catalog.Rows(ctx, table)
	if err != nil {
		return nil, err
	}
	return rs, nil
}
