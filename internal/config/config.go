// Package config defines the configuration model for amcache runs. A
// Pipeline is decoded from a JSON or YAML file through viper, overlaid with
// AMCACHE_* environment variables and CLI flags, and passed through the
// program as a plain value.
//
// Example (YAML, trimmed):
//
//	job: case-0042
//	source:
//	  kind: local
//	  local: { root: /mnt/evidence }
//	tables:
//	  program_entries: true
//	  associated_file_entries: true
//	storage:
//	  kind: sqlite
//	  dsn: case.db
package config

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Pipeline is the top-level configuration object.
type Pipeline struct {
	// Job labels metrics and log lines.
	Job string `json:"job" mapstructure:"job" yaml:"job"`

	// Module is the module name written on attributes and inbox messages.
	Module string `json:"module" mapstructure:"module" yaml:"module"`

	Source    Source    `json:"source" mapstructure:"source" yaml:"source"`
	Converter Converter `json:"converter" mapstructure:"converter" yaml:"converter"`
	Tables    Tables    `json:"tables" mapstructure:"tables" yaml:"tables"`
	Naming    Naming    `json:"naming" mapstructure:"naming" yaml:"naming"`
	Storage   Storage   `json:"storage" mapstructure:"storage" yaml:"storage"`
	Metrics   Metrics   `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// WorkDir holds the materialized hive files and converted databases.
	// Empty means a fresh directory under os.TempDir.
	WorkDir string `json:"work_dir" mapstructure:"work_dir" yaml:"work_dir"`

	// KeepWorkDir leaves WorkDir in place after the run.
	KeepWorkDir bool `json:"keep_work_dir" mapstructure:"keep_work_dir" yaml:"keep_work_dir"`
}

// Source describes where hive files are found.
type Source struct {
	// Kind is "local" or "bucket".
	Kind string `json:"kind" mapstructure:"kind" yaml:"kind"`

	// FileName is the hive file name matched case-insensitively.
	FileName string `json:"file_name" mapstructure:"file_name" yaml:"file_name"`

	Local  SourceLocal  `json:"local" mapstructure:"local" yaml:"local"`
	Bucket SourceBucket `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
}

// SourceLocal configures the "local" source kind.
type SourceLocal struct {
	// Root is a directory walked recursively, or a single hive file.
	Root string `json:"root" mapstructure:"root" yaml:"root"`
}

// SourceBucket configures the "bucket" source kind (S3-compatible storage).
type SourceBucket struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `json:"access_key" mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key" yaml:"-"`
	Region    string `json:"region" mapstructure:"region" yaml:"region"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl" yaml:"use_ssl"`
}

// Converter configures the external hive-to-SQLite parser.
type Converter struct {
	// Path is the parser executable, or a directory containing it. Empty
	// means the directory of the running binary.
	Path string `json:"path" mapstructure:"path" yaml:"path"`

	// TimeoutSeconds bounds one conversion; 0 disables the limit.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Tables enables each table category explicitly.
type Tables struct {
	AssociatedFileEntries bool `json:"associated_file_entries" mapstructure:"associated_file_entries" yaml:"associated_file_entries"`
	ProgramEntries        bool `json:"program_entries" mapstructure:"program_entries" yaml:"program_entries"`
	UnassociatedPrograms  bool `json:"unassociated_programs" mapstructure:"unassociated_programs" yaml:"unassociated_programs"`
}

// Table category names in processing order.
const (
	TableAssociatedFileEntries = "associated_file_entries"
	TableProgramEntries        = "program_entries"
	TableUnassociatedPrograms  = "unassociated_programs"
)

// Naming overrides the prefixes of derived store names.
type Naming struct {
	ArtifactPrefix    string `json:"artifact_prefix" mapstructure:"artifact_prefix" yaml:"artifact_prefix"`
	AttributePrefix   string `json:"attribute_prefix" mapstructure:"attribute_prefix" yaml:"attribute_prefix"`
	DescriptionPrefix string `json:"description_prefix" mapstructure:"description_prefix" yaml:"description_prefix"`
}

// Storage selects the case store backend.
type Storage struct {
	// Kind is one of "sqlite", "postgres", "mssql", "mysql", "memory".
	Kind string `json:"kind" mapstructure:"kind" yaml:"kind"`
	DSN  string `json:"dsn" mapstructure:"dsn" yaml:"-"`
}

// Metrics selects an optional metrics backend.
type Metrics struct {
	// Backend is "", "none", "prompush" or "datadog".
	Backend     string   `json:"backend" mapstructure:"backend" yaml:"backend"`
	PushGateway string   `json:"push_gateway" mapstructure:"push_gateway" yaml:"push_gateway"`
	DatadogAddr string   `json:"datadog_addr" mapstructure:"datadog_addr" yaml:"datadog_addr"`
	Namespace   string   `json:"namespace" mapstructure:"namespace" yaml:"namespace"`
	Tags        []string `json:"tags" mapstructure:"tags" yaml:"tags"`
}

// Defaults returns the built-in configuration.
func Defaults() Pipeline {
	return Pipeline{
		Job:    "amcache",
		Module: "Parse Amcache",
		Source: Source{
			Kind:     "local",
			FileName: "Amcache.hve",
		},
		Converter: Converter{TimeoutSeconds: 600},
		Tables: Tables{
			AssociatedFileEntries: true,
			ProgramEntries:        true,
			UnassociatedPrograms:  true,
		},
		Naming: Naming{
			ArtifactPrefix:    "TSK",
			AttributePrefix:   "TSK",
			DescriptionPrefix: "Amcache",
		},
		Storage: Storage{Kind: "sqlite", DSN: "amcache-case.db"},
	}
}

// Selectors resolves the enabled categories into normalized table names in
// a fixed order.
func (p Pipeline) Selectors() []string {
	var out []string
	if p.Tables.AssociatedFileEntries {
		out = append(out, TableAssociatedFileEntries)
	}
	if p.Tables.ProgramEntries {
		out = append(out, TableProgramEntries)
	}
	if p.Tables.UnassociatedPrograms {
		out = append(out, TableUnassociatedPrograms)
	}
	return out
}

// NormalizeSelector trims, NFC-normalizes and lower-cases a table name.
func NormalizeSelector(s string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(s)))
}

// NormalizeSelectors normalizes names and drops empties and duplicates,
// keeping first-seen order.
func NormalizeSelectors(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeSelector(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
