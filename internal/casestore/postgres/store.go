// Package postgres implements the case store on Postgres using pgx v5.
// Duplicate definitions are detected through SQLSTATE 23505 and reported as
// casestore.ErrAlreadyExists.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"amcache/internal/casestore"
)

// Config holds Postgres case store configuration.
type Config struct {
	DSN    string // connection string for pgxpool
	Schema string // optional schema name; default "public"
}

// Store is a pgx-backed casestore.Store.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

var (
	_ casestore.Store         = (*Store)(nil)
	_ casestore.MessagePoster = (*Store)(nil)
)

// NewStore connects, applies the schema, and returns a close function.
func NewStore(ctx context.Context, cfg Config) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	s := &Store{pool: pool, schema: schema}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, func() { pool.Close() }, nil
}

func (s *Store) table(name string) string {
	return pgIdent(s.schema) + "." + pgIdent(name)
}

// EnsureSchema creates the store tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.schema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(schema string) []string {
	t := func(n string) string { return pgIdent(schema) + "." + pgIdent(n) }
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgIdent(schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT ''
)`, t("artifact_types")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  value_type TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT ''
)`, t("attribute_types")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  artifact_type_id BIGINT NOT NULL REFERENCES %s(id),
  owner_id BIGINT NOT NULL,
  owner_name TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  row_hash BIGINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL
)`, t("artifacts"), t("artifact_types")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_artifacts_type ON %s (artifact_type_id)`, t("artifacts")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  artifact_id BIGINT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  attribute_type_id BIGINT NOT NULL REFERENCES %s(id),
  ordinal INT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  value_text TEXT,
  value_int64 BIGINT,
  PRIMARY KEY (artifact_id, ordinal)
)`, t("artifact_attributes"), t("artifacts"), t("attribute_types")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  module TEXT NOT NULL,
  subject TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
)`, t("ingest_messages")),
	}
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateArtifactKind implements casestore.Store.
func (s *Store) CreateArtifactKind(ctx context.Context, name, description string) (casestore.ArtifactKind, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, description) VALUES ($1, $2) RETURNING id`, s.table("artifact_types")),
		name, description,
	).Scan(&id)
	if isUniqueViolation(err) {
		return casestore.ArtifactKind{}, fmt.Errorf("postgres: artifact kind %q: %w", name, casestore.ErrAlreadyExists)
	}
	if err != nil {
		return casestore.ArtifactKind{}, fmt.Errorf("postgres: create artifact kind %q: %w", name, err)
	}
	return casestore.ArtifactKind{ID: id, Name: name, Description: description}, nil
}

// ArtifactKindByName implements casestore.Store.
func (s *Store) ArtifactKindByName(ctx context.Context, name string) (casestore.ArtifactKind, error) {
	var k casestore.ArtifactKind
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, name, description FROM %s WHERE name = $1`, s.table("artifact_types")),
		name,
	).Scan(&k.ID, &k.Name, &k.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return casestore.ArtifactKind{}, fmt.Errorf("postgres: artifact kind %q: %w", name, casestore.ErrNotFound)
	}
	if err != nil {
		return casestore.ArtifactKind{}, fmt.Errorf("postgres: lookup artifact kind %q: %w", name, err)
	}
	return k, nil
}

// CreateAttributeType implements casestore.Store.
func (s *Store) CreateAttributeType(ctx context.Context, name string, kind casestore.ValueKind, label string) (casestore.AttributeType, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, value_type, label) VALUES ($1, $2, $3) RETURNING id`, s.table("attribute_types")),
		name, string(kind), label,
	).Scan(&id)
	if isUniqueViolation(err) {
		return casestore.AttributeType{}, fmt.Errorf("postgres: attribute type %q: %w", name, casestore.ErrAlreadyExists)
	}
	if err != nil {
		return casestore.AttributeType{}, fmt.Errorf("postgres: create attribute type %q: %w", name, err)
	}
	return casestore.AttributeType{ID: id, Name: name, ValueKind: kind, Label: label}, nil
}

// AttributeTypeByName implements casestore.Store.
func (s *Store) AttributeTypeByName(ctx context.Context, name string) (casestore.AttributeType, error) {
	var (
		t  casestore.AttributeType
		vk string
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, name, value_type, label FROM %s WHERE name = $1`, s.table("attribute_types")),
		name,
	).Scan(&t.ID, &t.Name, &vk, &t.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return casestore.AttributeType{}, fmt.Errorf("postgres: attribute type %q: %w", name, casestore.ErrNotFound)
	}
	if err != nil {
		return casestore.AttributeType{}, fmt.Errorf("postgres: lookup attribute type %q: %w", name, err)
	}
	t.ValueKind = casestore.ValueKind(vk)
	return t, nil
}

// AddRecord inserts the artifact and its attributes in one transaction. The
// attributes are sent with CopyFrom, which keeps wide tables to one round
// trip.
func (s *Store) AddRecord(ctx context.Context, rec casestore.Record) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (artifact_type_id, owner_id, owner_name, run_id, row_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, s.table("artifacts")),
		rec.Kind.ID, rec.Owner.ID, rec.Owner.Name, rec.RunID, int64(rec.Fingerprint), time.Now().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert artifact: %w", err)
	}

	if len(rec.Attributes) > 0 {
		rows := attributeRows(id, rec.Attributes)
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{s.schema, "artifact_attributes"},
			[]string{"artifact_id", "attribute_type_id", "ordinal", "source", "value_text", "value_int64"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return 0, fmt.Errorf("postgres: copy attributes: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return id, nil
}

// attributeRows lays out attributes in artifact_attributes column order.
func attributeRows(artifactID int64, attrs []casestore.Attribute) [][]any {
	rows := make([][]any, len(attrs))
	for i, a := range attrs {
		var text, num any
		if a.Type.ValueKind == casestore.ValueLong {
			num = a.Int
		} else {
			text = a.Text
		}
		rows[i] = []any{artifactID, a.Type.ID, int32(i), a.Source, text, num}
	}
	return rows
}

// PostMessage implements casestore.MessagePoster.
func (s *Store) PostMessage(ctx context.Context, m casestore.Message) error {
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (module, subject, detail, created_at) VALUES ($1, $2, $3, $4)`, s.table("ingest_messages")),
		m.Module, m.Subject, m.Detail, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("postgres: post message: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}
