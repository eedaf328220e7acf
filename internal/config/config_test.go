package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSelectors_OrderAndExplicitFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tables Tables
		want   []string
	}{
		{"all", Tables{true, true, true}, []string{"associated_file_entries", "program_entries", "unassociated_programs"}},
		{"none", Tables{}, nil},
		{"unassociated off", Tables{AssociatedFileEntries: true, ProgramEntries: true}, []string{"associated_file_entries", "program_entries"}},
		{"only unassociated", Tables{UnassociatedPrograms: true}, []string{"unassociated_programs"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Pipeline{Tables: tc.tables}.Selectors()
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Selectors() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalizeSelectors(t *testing.T) {
	t.Parallel()

	got := NormalizeSelectors([]string{" Program_Entries ", "program_entries", "", "  ", "Café"})
	want := []string{"program_entries", "café"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeSelectors = %q, want %q", got, want)
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	p, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	d := Defaults()
	if p.Job != d.Job || p.Storage != d.Storage || p.Tables != d.Tables || p.Naming != d.Naming {
		t.Fatalf("Load() = %+v, want defaults %+v", p, d)
	}
}

func TestLoad_YAMLFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amcache.yaml")
	const doc = `
job: case-0042
source:
  kind: local
  local:
    root: /mnt/evidence
tables:
  associated_file_entries: false
  program_entries: true
  unassociated_programs: false
storage:
  kind: postgres
  dsn: postgres://u@localhost/case
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AMCACHE_STORAGE_DSN", "postgres://override@localhost/case")
	t.Setenv("AMCACHE_TABLES_UNASSOCIATED_PROGRAMS", "true")

	p, err := Load(NewViper(), path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Job != "case-0042" || p.Source.Local.Root != "/mnt/evidence" || p.Storage.Kind != "postgres" {
		t.Fatalf("decoded = %+v", p)
	}
	if p.Storage.DSN != "postgres://override@localhost/case" {
		t.Fatalf("env override not applied: %q", p.Storage.DSN)
	}
	if got := p.Selectors(); !reflect.DeepEqual(got, []string{"program_entries", "unassociated_programs"}) {
		t.Fatalf("Selectors = %v", got)
	}
	if p.Source.FileName != "Amcache.hve" {
		t.Fatalf("default file name lost: %q", p.Source.FileName)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amcache.json")
	if err := os.WriteFile(path, []byte(`{"job":"j","storage":{"kind":"mssql","dsn":"sqlserver://sa@localhost"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(NewViper(), path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Storage.Kind != "mssql" || p.Job != "j" {
		t.Fatalf("decoded = %+v", p)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestYAML_OmitsSecrets(t *testing.T) {
	p := Defaults()
	p.Storage.DSN = "postgres://user:hunter2@db/case"
	p.Source.Bucket.SecretKey = "s3cr3t"
	b, err := YAML(p)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "s3cr3t") {
		t.Fatalf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "program_entries: true") {
		t.Fatalf("missing tables:\n%s", out)
	}
}
