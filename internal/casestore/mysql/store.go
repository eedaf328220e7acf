// Package mysql implements the case store on MySQL using
// github.com/go-sql-driver/mysql through database/sql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"amcache/internal/casestore/sqlstore"
)

// Config holds MySQL case store configuration.
type Config struct {
	// DSN in go-sql-driver form, e.g. "user:pass@tcp(127.0.0.1:3306)/cases".
	DSN string
}

// NewStore parses the DSN, connects, and applies the schema.
func NewStore(ctx context.Context, cfg Config) (*sqlstore.Store, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}

	s := sqlstore.New(db, Dialect{})
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// Dialect is the MySQL sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) Placeholder(int) string { return "?" }

func (d Dialect) InsertReturningID(table string, cols []string) (string, bool) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = myIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		myIdent(table), strings.Join(quoted, ", "), sqlstore.Placeholders(d, len(cols))), false
}

// IsUniqueViolation matches ER_DUP_ENTRY (1062).
func (Dialect) IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func (Dialect) Schema() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS artifact_types (" +
			"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
			"name VARCHAR(255) NOT NULL UNIQUE, " +
			"description VARCHAR(1024) NOT NULL DEFAULT ''" +
			") CHARACTER SET utf8mb4",
		"CREATE TABLE IF NOT EXISTS attribute_types (" +
			"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
			"name VARCHAR(255) NOT NULL UNIQUE, " +
			"value_type VARCHAR(16) NOT NULL, " +
			"label VARCHAR(255) NOT NULL DEFAULT ''" +
			") CHARACTER SET utf8mb4",
		"CREATE TABLE IF NOT EXISTS artifacts (" +
			"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
			"artifact_type_id BIGINT NOT NULL, " +
			"owner_id BIGINT NOT NULL, " +
			"owner_name VARCHAR(1024) NOT NULL DEFAULT '', " +
			"run_id VARCHAR(64) NOT NULL DEFAULT '', " +
			"row_hash BIGINT NOT NULL DEFAULT 0, " +
			"created_at BIGINT NOT NULL, " +
			"INDEX idx_artifacts_type (artifact_type_id), " +
			"FOREIGN KEY (artifact_type_id) REFERENCES artifact_types(id)" +
			") CHARACTER SET utf8mb4",
		"CREATE TABLE IF NOT EXISTS artifact_attributes (" +
			"artifact_id BIGINT NOT NULL, " +
			"attribute_type_id BIGINT NOT NULL, " +
			"ordinal INT NOT NULL, " +
			"source VARCHAR(255) NOT NULL DEFAULT '', " +
			"value_text LONGTEXT NULL, " +
			"value_int64 BIGINT NULL, " +
			"PRIMARY KEY (artifact_id, ordinal), " +
			"FOREIGN KEY (artifact_id) REFERENCES artifacts(id) ON DELETE CASCADE, " +
			"FOREIGN KEY (attribute_type_id) REFERENCES attribute_types(id)" +
			") CHARACTER SET utf8mb4",
		"CREATE TABLE IF NOT EXISTS ingest_messages (" +
			"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
			"module VARCHAR(255) NOT NULL, " +
			"subject VARCHAR(255) NOT NULL, " +
			"detail TEXT NOT NULL, " +
			"created_at BIGINT NOT NULL" +
			") CHARACTER SET utf8mb4",
	}
}

func myIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
