// Package mssql implements the case store on Microsoft SQL Server using
// go-mssqldb through database/sql. New ids are read back with
// OUTPUT INSERTED.id because the driver does not support LastInsertId.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"amcache/internal/casestore/sqlstore"
)

// Config holds SQL Server case store configuration.
type Config struct {
	DSN string
}

// NewStore validates the DSN, connects, and applies the schema.
func NewStore(ctx context.Context, cfg Config) (*sqlstore.Store, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mssql: sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mssql: ping: %w", err)
	}

	s := sqlstore.New(db, Dialect{})
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// Dialect is the SQL Server sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (d Dialect) InsertReturningID(table string, cols []string) (string, bool) {
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)",
		msIdent(table), strings.Join(cols, ", "), sqlstore.Placeholders(d, len(cols))), true
}

// IsUniqueViolation matches error 2627 (unique constraint) and 2601
// (unique index).
func (Dialect) IsUniqueViolation(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == 2627 || me.Number == 2601
	}
	var mp *mssql.Error
	if errors.As(err, &mp) && mp != nil {
		return mp.Number == 2627 || mp.Number == 2601
	}
	return false
}

func (Dialect) Schema() []string {
	return []string{
		`IF OBJECT_ID(N'dbo.artifact_types', N'U') IS NULL
CREATE TABLE dbo.artifact_types (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  name NVARCHAR(256) NOT NULL UNIQUE,
  description NVARCHAR(1024) NOT NULL DEFAULT ''
);`,
		`IF OBJECT_ID(N'dbo.attribute_types', N'U') IS NULL
CREATE TABLE dbo.attribute_types (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  name NVARCHAR(256) NOT NULL UNIQUE,
  value_type NVARCHAR(16) NOT NULL,
  label NVARCHAR(256) NOT NULL DEFAULT ''
);`,
		`IF OBJECT_ID(N'dbo.artifacts', N'U') IS NULL
CREATE TABLE dbo.artifacts (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  artifact_type_id BIGINT NOT NULL REFERENCES dbo.artifact_types(id),
  owner_id BIGINT NOT NULL,
  owner_name NVARCHAR(1024) NOT NULL DEFAULT '',
  run_id NVARCHAR(64) NOT NULL DEFAULT '',
  row_hash BIGINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  INDEX idx_artifacts_type NONCLUSTERED (artifact_type_id)
);`,
		`IF OBJECT_ID(N'dbo.artifact_attributes', N'U') IS NULL
CREATE TABLE dbo.artifact_attributes (
  artifact_id BIGINT NOT NULL REFERENCES dbo.artifacts(id) ON DELETE CASCADE,
  attribute_type_id BIGINT NOT NULL REFERENCES dbo.attribute_types(id),
  ordinal INT NOT NULL,
  source NVARCHAR(256) NOT NULL DEFAULT '',
  value_text NVARCHAR(MAX) NULL,
  value_int64 BIGINT NULL,
  PRIMARY KEY (artifact_id, ordinal)
);`,
		`IF OBJECT_ID(N'dbo.ingest_messages', N'U') IS NULL
CREATE TABLE dbo.ingest_messages (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  module NVARCHAR(256) NOT NULL,
  subject NVARCHAR(256) NOT NULL,
  detail NVARCHAR(MAX) NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);`,
	}
}

// msIdent quotes a possibly schema-qualified identifier with brackets.
func msIdent(id string) string {
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}
