package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config, e.g. "storage.kind".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains a SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline lints p without mutating it. An empty table selection is
// only a warning; the run itself reports it.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and log lines",
		})
	}
	if len(p.Selectors()) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "tables",
			Message:  "no table categories enabled; runs will end with no tables selected",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateConverter(p.Converter)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	issues = append(issues, validateNaming(p.Naming)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.FileName) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.file_name",
			Message:  "source.file_name must not be empty",
		})
	}

	switch s.Kind {
	case "local":
		if strings.TrimSpace(s.Local.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.local.root",
				Message:  "local source requires a root directory or file",
			})
		}
	case "bucket":
		if s.Bucket.Endpoint == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.bucket.endpoint",
				Message:  "bucket source requires an endpoint",
			})
		}
		if s.Bucket.Bucket == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.bucket.bucket",
				Message:  "bucket source requires a bucket name",
			})
		}
		if s.Bucket.AccessKey == "" || s.Bucket.SecretKey == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.bucket",
				Message:  "no credentials configured; anonymous access will be used",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; want local or bucket", s.Kind),
		})
	}
	return issues
}

func validateConverter(c Converter) []Issue {
	if c.TimeoutSeconds < 0 {
		return []Issue{{
			Severity: SeverityError,
			Path:     "converter.timeout_seconds",
			Message:  "timeout must be >= 0",
		}}
	}
	return nil
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	known := map[string]struct{}{
		"sqlite":   {},
		"postgres": {},
		"mssql":    {},
		"mysql":    {},
		"memory":   {},
	}
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if s.Kind == "memory" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  "memory storage discards all records when the process exits",
		})
		return issues
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none":
		return nil
	case "prompush":
		if m.PushGateway == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     "metrics.push_gateway",
				Message:  "prompush backend requires push_gateway",
			}}
		}
	case "datadog":
		if m.DatadogAddr == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			}}
		}
	default:
		return []Issue{{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prompush or datadog", m.Backend),
		}}
	}
	return nil
}

// validateNaming keeps derived names in PREFIX_NAME form; an empty
// description prefix is allowed and leaves the bare table name.
func validateNaming(n Naming) []Issue {
	var issues []Issue
	for _, f := range []struct{ path, value string }{
		{"naming.artifact_prefix", n.ArtifactPrefix},
		{"naming.attribute_prefix", n.AttributePrefix},
	} {
		if strings.TrimSpace(f.value) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     f.path,
				Message:  "prefix must not be empty; names are derived as PREFIX_NAME",
			})
		}
	}
	return issues
}
