// Package sqlstore implements casestore.Store on top of database/sql. The
// SQL dialect (placeholders, DDL, id retrieval, duplicate-key detection) is
// supplied by the backend packages (sqlite, mssql, mysql); this package holds
// the statements and transaction handling they share.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"amcache/internal/casestore"
)

// Dialect captures what differs between database/sql backends.
type Dialect interface {
	// Name is used as the error prefix, e.g. "sqlite".
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Schema returns idempotent DDL statements creating the store tables.
	Schema() []string
	// InsertReturningID builds an INSERT for table/cols. When returning is
	// true the statement yields the new id as a single-row result;
	// otherwise the caller uses sql.Result.LastInsertId.
	InsertReturningID(table string, cols []string) (query string, returning bool)
	// IsUniqueViolation reports whether err is a duplicate-key error.
	IsUniqueViolation(err error) bool
}

// Store is a database/sql backed casestore.Store.
type Store struct {
	db *sql.DB
	d  Dialect

	closeOnce sync.Once
	closeErr  error
}

var (
	_ casestore.Store         = (*Store)(nil)
	_ casestore.MessagePoster = (*Store)(nil)
)

// New wraps an open database handle. The Store takes ownership of db.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

// DB exposes the underlying handle (tests and diagnostics).
func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema applies the dialect DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.d.Schema() {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: ensure schema: %w", s.d.Name(), err)
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insertID(ctx context.Context, q execer, table string, cols []string, args ...any) (int64, error) {
	query, returning := s.d.InsertReturningID(table, cols)
	if returning {
		var id int64
		if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) classify(err error, what, name string) error {
	if s.d.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %s %q: %w", s.d.Name(), what, name, casestore.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: create %s %q: %w", s.d.Name(), what, name, err)
}

// CreateArtifactKind implements casestore.Store.
func (s *Store) CreateArtifactKind(ctx context.Context, name, description string) (casestore.ArtifactKind, error) {
	id, err := s.insertID(ctx, s.db, "artifact_types", []string{"name", "description"}, name, description)
	if err != nil {
		return casestore.ArtifactKind{}, s.classify(err, "artifact kind", name)
	}
	return casestore.ArtifactKind{ID: id, Name: name, Description: description}, nil
}

// ArtifactKindByName implements casestore.Store.
func (s *Store) ArtifactKindByName(ctx context.Context, name string) (casestore.ArtifactKind, error) {
	q := fmt.Sprintf("SELECT id, name, description FROM artifact_types WHERE name = %s", s.d.Placeholder(1))
	var k casestore.ArtifactKind
	err := s.db.QueryRowContext(ctx, q, name).Scan(&k.ID, &k.Name, &k.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return casestore.ArtifactKind{}, fmt.Errorf("%s: artifact kind %q: %w", s.d.Name(), name, casestore.ErrNotFound)
	}
	if err != nil {
		return casestore.ArtifactKind{}, fmt.Errorf("%s: lookup artifact kind %q: %w", s.d.Name(), name, err)
	}
	return k, nil
}

// CreateAttributeType implements casestore.Store.
func (s *Store) CreateAttributeType(ctx context.Context, name string, kind casestore.ValueKind, label string) (casestore.AttributeType, error) {
	id, err := s.insertID(ctx, s.db, "attribute_types", []string{"name", "value_type", "label"}, name, string(kind), label)
	if err != nil {
		return casestore.AttributeType{}, s.classify(err, "attribute type", name)
	}
	return casestore.AttributeType{ID: id, Name: name, ValueKind: kind, Label: label}, nil
}

// AttributeTypeByName implements casestore.Store.
func (s *Store) AttributeTypeByName(ctx context.Context, name string) (casestore.AttributeType, error) {
	q := fmt.Sprintf("SELECT id, name, value_type, label FROM attribute_types WHERE name = %s", s.d.Placeholder(1))
	var (
		t  casestore.AttributeType
		vk string
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&t.ID, &t.Name, &vk, &t.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return casestore.AttributeType{}, fmt.Errorf("%s: attribute type %q: %w", s.d.Name(), name, casestore.ErrNotFound)
	}
	if err != nil {
		return casestore.AttributeType{}, fmt.Errorf("%s: lookup attribute type %q: %w", s.d.Name(), name, err)
	}
	t.ValueKind = casestore.ValueKind(vk)
	return t, nil
}

// AddRecord inserts the artifact row and its attributes in one transaction.
func (s *Store) AddRecord(ctx context.Context, rec casestore.Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", s.d.Name(), err)
	}

	id, err := s.insertID(ctx, tx, "artifacts",
		[]string{"artifact_type_id", "owner_id", "owner_name", "run_id", "row_hash", "created_at"},
		rec.Kind.ID, rec.Owner.ID, rec.Owner.Name, rec.RunID, int64(rec.Fingerprint), time.Now().UnixMilli(),
	)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: insert artifact: %w", s.d.Name(), err)
	}

	if len(rec.Attributes) > 0 {
		cols := []string{"artifact_id", "attribute_type_id", "ordinal", "source", "value_text", "value_int64"}
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT INTO artifact_attributes (%s) VALUES (%s)",
			strings.Join(cols, ", "), Placeholders(s.d, len(cols)),
		))
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: prepare attribute insert: %w", s.d.Name(), err)
		}
		defer stmt.Close()

		for i, a := range rec.Attributes {
			var text, num any
			if a.Type.ValueKind == casestore.ValueLong {
				num = a.Int
			} else {
				text = a.Text
			}
			if _, err := stmt.ExecContext(ctx, id, a.Type.ID, i, a.Source, text, num); err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("%s: insert attribute %s: %w", s.d.Name(), a.Type.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", s.d.Name(), err)
	}
	return id, nil
}

// PostMessage implements casestore.MessagePoster.
func (s *Store) PostMessage(ctx context.Context, m casestore.Message) error {
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.insertID(ctx, s.db, "ingest_messages",
		[]string{"module", "subject", "detail", "created_at"},
		m.Module, m.Subject, m.Detail, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s: post message: %w", s.d.Name(), err)
	}
	return nil
}

// CountRecords returns the number of artifacts stored under kindID.
func (s *Store) CountRecords(ctx context.Context, kindID int64) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM artifacts WHERE artifact_type_id = %s", s.d.Placeholder(1))
	var n int64
	if err := s.db.QueryRowContext(ctx, q, kindID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count artifacts: %w", s.d.Name(), err)
	}
	return n, nil
}

// Close releases the database handle. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// Placeholders returns n positional placeholders starting at 1.
func Placeholders(d Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}
