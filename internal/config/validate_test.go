package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	p := Defaults()
	p.Source.Local.Root = "/mnt/evidence"
	return p
}

func TestValidatePipeline_ValidDefaults(t *testing.T) {
	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidatePipeline_Findings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"missing job", func(p *Pipeline) { p.Job = " " }, SeverityError, "job", "must not be empty"},
		{"no tables", func(p *Pipeline) { p.Tables = Tables{} }, SeverityWarning, "tables", "no table categories"},
		{"no root", func(p *Pipeline) { p.Source.Local.Root = "" }, SeverityError, "source.local.root", "requires a root"},
		{"unknown source", func(p *Pipeline) { p.Source.Kind = "ftp" }, SeverityError, "source.kind", "unknown source kind"},
		{"bucket endpoint", func(p *Pipeline) { p.Source.Kind = "bucket"; p.Source.Bucket.Bucket = "b" }, SeverityError, "source.bucket.endpoint", "endpoint"},
		{"bucket anon", func(p *Pipeline) {
			p.Source.Kind = "bucket"
			p.Source.Bucket.Endpoint = "minio:9000"
			p.Source.Bucket.Bucket = "b"
		}, SeverityWarning, "source.bucket", "anonymous"},
		{"empty file name", func(p *Pipeline) { p.Source.FileName = "" }, SeverityError, "source.file_name", "must not be empty"},
		{"negative timeout", func(p *Pipeline) { p.Converter.TimeoutSeconds = -1 }, SeverityError, "converter.timeout_seconds", ">= 0"},
		{"empty storage kind", func(p *Pipeline) { p.Storage.Kind = "" }, SeverityError, "storage.kind", "must not be empty"},
		{"unknown storage", func(p *Pipeline) { p.Storage.Kind = "oracle" }, SeverityWarning, "storage.kind", "unknown storage kind"},
		{"empty dsn", func(p *Pipeline) { p.Storage.DSN = "" }, SeverityError, "storage.dsn", "must not be empty"},
		{"memory storage", func(p *Pipeline) { p.Storage = Storage{Kind: "memory"} }, SeverityWarning, "storage.kind", "discards"},
		{"prompush without gateway", func(p *Pipeline) { p.Metrics.Backend = "prompush" }, SeverityError, "metrics.push_gateway", "requires"},
		{"datadog without addr", func(p *Pipeline) { p.Metrics.Backend = "datadog" }, SeverityError, "metrics.datadog_addr", "requires"},
		{"empty artifact prefix", func(p *Pipeline) { p.Naming.ArtifactPrefix = "" }, SeverityError, "naming.artifact_prefix", "must not be empty"},
		{"blank attribute prefix", func(p *Pipeline) { p.Naming.AttributePrefix = "  " }, SeverityError, "naming.attribute_prefix", "must not be empty"},
		{"unknown metrics", func(p *Pipeline) { p.Metrics.Backend = "statsd" }, SeverityError, "metrics.backend", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPipeline()
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s (%q); got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestHasErrors(t *testing.T) {
	if HasErrors([]Issue{{Severity: SeverityWarning}}) {
		t.Fatal("warnings only")
	}
	if !HasErrors([]Issue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Fatal("error not detected")
	}
	if got := (Issue{Severity: SeverityError, Path: "job", Message: "x"}).Error(); got != "error at job: x" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestValidatePipeline_EmptyDescriptionPrefixAllowed(t *testing.T) {
	p := validPipeline()
	p.Naming.DescriptionPrefix = ""
	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}
