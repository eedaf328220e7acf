package mysql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"

	"amcache/internal/casestore"
)

func TestDialect_InsertReturningID(t *testing.T) {
	q, returning := Dialect{}.InsertReturningID("attribute_types", []string{"name", "value_type", "label"})
	if returning {
		t.Fatalf("mysql uses LastInsertId")
	}
	want := "INSERT INTO `attribute_types` (`name`, `value_type`, `label`) VALUES (?, ?, ?)"
	if q != want {
		t.Fatalf("query:\n got %q\nwant %q", q, want)
	}
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	d := Dialect{}
	if !d.IsUniqueViolation(fmt.Errorf("wrap: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})) {
		t.Fatalf("1062 should be a unique violation")
	}
	if d.IsUniqueViolation(&mysql.MySQLError{Number: 1452}) {
		t.Fatalf("1452 is a FK error, not a unique violation")
	}
	if d.IsUniqueViolation(errors.New("x")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestNewStore_BadDSN(t *testing.T) {
	if _, _, err := NewStore(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected DSN parse error")
	}
}

func TestIntegration_AttributeTypes(t *testing.T) {
	dsn := os.Getenv("AMCACHE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AMCACHE_TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	s, closeFn, err := NewStore(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer closeFn()

	const name = "TSK_IT_MYSQL_LABEL"
	if _, err := s.CreateAttributeType(ctx, name, casestore.ValueString, "label"); err != nil && !errors.Is(err, casestore.ErrAlreadyExists) {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAttributeType(ctx, name, casestore.ValueString, "label"); !errors.Is(err, casestore.ErrAlreadyExists) {
		t.Fatalf("duplicate: got %v", err)
	}
	got, err := s.AttributeTypeByName(ctx, name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ValueKind != casestore.ValueString {
		t.Fatalf("value kind = %s", got.ValueKind)
	}
}
