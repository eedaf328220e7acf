package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"amcache/internal/casestore"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"23505", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped 23505", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"fk violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUniqueViolation(tc.err); got != tc.want {
				t.Fatalf("isUniqueViolation = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAttributeRows_TypedColumns(t *testing.T) {
	attrs := []casestore.Attribute{
		{Type: casestore.AttributeType{ID: 3, ValueKind: casestore.ValueString}, Source: "m", Text: "x"},
		{Type: casestore.AttributeType{ID: 4, ValueKind: casestore.ValueLong}, Source: "m", Int: 5},
	}
	rows := attributeRows(99, attrs)
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][0] != int64(99) || rows[0][1] != int64(3) || rows[0][2] != int32(0) || rows[0][4] != "x" || rows[0][5] != nil {
		t.Fatalf("row0 = %#v", rows[0])
	}
	if rows[1][2] != int32(1) || rows[1][4] != nil || rows[1][5] != int64(5) {
		t.Fatalf("row1 = %#v", rows[1])
	}
}

func TestSchemaStatements_QuoteSchema(t *testing.T) {
	stmts := schemaStatements("case data")
	if !strings.Contains(stmts[0], `"case data"`) {
		t.Fatalf("schema not quoted: %s", stmts[0])
	}
	joined := strings.Join(stmts, "\n")
	for _, tbl := range []string{"artifact_types", "attribute_types", "artifacts", "artifact_attributes", "ingest_messages"} {
		if !strings.Contains(joined, `"case data"."`+tbl+`"`) {
			t.Fatalf("missing table %s", tbl)
		}
	}
}

// TestIntegration_EndToEnd requires AMCACHE_TEST_PG_DSN.
func TestIntegration_EndToEnd(t *testing.T) {
	dsn := os.Getenv("AMCACHE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("AMCACHE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, closeFn, err := NewStore(ctx, Config{DSN: dsn, Schema: "amcache_it"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer closeFn()

	kind, err := s.CreateArtifactKind(ctx, "TSK_IT_PG", "it")
	if errors.Is(err, casestore.ErrAlreadyExists) {
		kind, err = s.ArtifactKindByName(ctx, "TSK_IT_PG")
	}
	if err != nil {
		t.Fatalf("kind: %v", err)
	}
	attr, err := s.CreateAttributeType(ctx, "TSK_IT_PG_NAME", casestore.ValueString, "name")
	if errors.Is(err, casestore.ErrAlreadyExists) {
		attr, err = s.AttributeTypeByName(ctx, "TSK_IT_PG_NAME")
	}
	if err != nil {
		t.Fatalf("attr: %v", err)
	}

	rec := casestore.Record{Kind: kind, Owner: casestore.FileHandle{ID: 1, Name: "Amcache.hve"}}
	rec.AddAttribute(casestore.Attribute{Type: attr, Text: "x"})
	if _, err := s.AddRecord(ctx, rec); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
}
