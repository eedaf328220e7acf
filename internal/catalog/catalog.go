// Package catalog discovers the tables, columns and rows of an externally
// produced SQLite database. The database is opened read-only; nothing in
// this package writes to it.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"amcache/internal/casestore"
)

// ErrUnreadableDatabase is returned when the source database cannot be
// opened or its table metadata cannot be queried.
var ErrUnreadableDatabase = errors.New("catalog: unreadable database")

// ColumnDescriptor describes one source column in native order.
type ColumnDescriptor struct {
	Name         string
	DeclaredType string
	Kind         casestore.ValueKind
}

// Catalog is a read-only handle on a source database.
type Catalog struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// Open opens path read-only and verifies that it is a SQLite database.
func Open(ctx context.Context, path string) (*Catalog, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableDatabase, path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnreadableDatabase, path)
	}

	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnreadableDatabase, path, err)
	}
	db.SetMaxOpenConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// Ping alone succeeds on arbitrary files; reading the schema does not.
	var n int
	if err := db.QueryRowContext(pingCtx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableDatabase, path, err)
	}
	return &Catalog{db: db, path: path}, nil
}

// readOnlyDSN builds a SQLite URI that opens path without write access.
func readOnlyDSN(path string) string {
	esc := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return "file:" + esc.Replace(strings.ReplaceAll(path, `\`, "/")) + "?mode=ro"
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// ListMatchingTables returns the subset of names that exist as tables or
// views, compared case-insensitively. Results are in metadata order, each
// table once, spelled as the database spells it.
func (c *Catalog) ListMatchingTables(ctx context.Context, names []string) ([]string, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			want[n] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrUnreadableDatabase, err)
	}
	defer rows.Close()

	var out []string
	seen := make(map[string]struct{}, len(want))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: list tables: %v", ErrUnreadableDatabase, err)
		}
		key := strings.ToLower(name)
		if _, ok := want[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrUnreadableDatabase, err)
	}
	return out, nil
}

// DescribeColumns returns the columns of table in native order. A table
// with no columns is an error.
func (c *Catalog) DescribeColumns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("catalog: describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnDescriptor
	for rows.Next() {
		var name, declared string
		if err := rows.Scan(&name, &declared); err != nil {
			return nil, fmt.Errorf("catalog: describe %s: %w", table, err)
		}
		cols = append(cols, ColumnDescriptor{
			Name:         name,
			DeclaredType: declared,
			Kind:         NormalizeType(declared),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("catalog: describe %s: no columns", table)
	}
	return cols, nil
}

// NormalizeType maps a declared column type to a value kind. Empty and
// TEXT declarations are strings; every other declaration is a long.
func NormalizeType(declared string) casestore.ValueKind {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "", "TEXT":
		return casestore.ValueString
	default:
		return casestore.ValueLong
	}
}

// Rows starts a forward-only scan of every row in table. Cells come back
// as stored: a DATETIME column holding text yields that text, not a
// time.Time.
func (c *Catalog) Rows(ctx context.Context, table string) (*RowStream, error) {
	cols, err := c.DescribeColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, selectAll(table, cols))
	if err != nil {
		return nil, fmt.Errorf("catalog: select %s: %w", table, err)
	}
	names, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("catalog: columns %s: %w", table, err)
	}
	return &RowStream{rows: rows, cols: names}, nil
}

// selectAll lists every column of table as "+col AS col". Unary plus
// returns the stored value unchanged but hides the declared type from the
// driver, which would otherwise parse DATE, DATETIME and TIMESTAMP text
// into time.Time.
func selectAll(table string, cols []ColumnDescriptor) string {
	list := make([]string, len(cols))
	for i, col := range cols {
		q := quoteIdent(col.Name)
		list[i] = "+" + q + " AS " + q
	}
	return "SELECT " + strings.Join(list, ", ") + " FROM " + quoteIdent(table)
}

// Close releases the database handle. Safe to call more than once.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.db.Close() })
	return c.closeErr
}

// RowStream yields one row at a time. Cells are the driver's native values:
// int64, float64, string, []byte or nil.
type RowStream struct {
	rows *sql.Rows
	cols []string
}

// Columns returns the result-set column names.
func (r *RowStream) Columns() []string { return r.cols }

// Next advances to the next row.
func (r *RowStream) Next() bool { return r.rows.Next() }

// Values scans the current row.
func (r *RowStream) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

// Err reports an iteration error.
func (r *RowStream) Err() error { return r.rows.Err() }

// Close ends the scan.
func (r *RowStream) Close() error { return r.rows.Close() }

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
