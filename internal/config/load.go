package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// AMCACHE_STORAGE_DSN or AMCACHE_TABLES_PROGRAM_ENTRIES.
const EnvPrefix = "AMCACHE"

// NewViper returns a viper instance seeded with Defaults and wired to
// AMCACHE_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every leaf key so that AutomaticEnv and Unmarshal
// see it even when no config file sets it.
func setDefaults(v *viper.Viper, d Pipeline) {
	v.SetDefault("job", d.Job)
	v.SetDefault("module", d.Module)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.file_name", d.Source.FileName)
	v.SetDefault("source.local.root", d.Source.Local.Root)
	v.SetDefault("source.bucket.endpoint", d.Source.Bucket.Endpoint)
	v.SetDefault("source.bucket.bucket", d.Source.Bucket.Bucket)
	v.SetDefault("source.bucket.prefix", d.Source.Bucket.Prefix)
	v.SetDefault("source.bucket.access_key", d.Source.Bucket.AccessKey)
	v.SetDefault("source.bucket.secret_key", d.Source.Bucket.SecretKey)
	v.SetDefault("source.bucket.region", d.Source.Bucket.Region)
	v.SetDefault("source.bucket.use_ssl", d.Source.Bucket.UseSSL)

	v.SetDefault("converter.path", d.Converter.Path)
	v.SetDefault("converter.timeout_seconds", d.Converter.TimeoutSeconds)

	v.SetDefault("tables.associated_file_entries", d.Tables.AssociatedFileEntries)
	v.SetDefault("tables.program_entries", d.Tables.ProgramEntries)
	v.SetDefault("tables.unassociated_programs", d.Tables.UnassociatedPrograms)

	v.SetDefault("naming.artifact_prefix", d.Naming.ArtifactPrefix)
	v.SetDefault("naming.attribute_prefix", d.Naming.AttributePrefix)
	v.SetDefault("naming.description_prefix", d.Naming.DescriptionPrefix)

	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.push_gateway", d.Metrics.PushGateway)
	v.SetDefault("metrics.datadog_addr", d.Metrics.DatadogAddr)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.tags", d.Metrics.Tags)

	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("keep_work_dir", d.KeepWorkDir)
}

// Load reads path (JSON or YAML, chosen by extension) into v when path is
// non-empty and decodes the merged result.
func Load(v *viper.Viper, path string) (Pipeline, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) {
				return Pipeline{}, fmt.Errorf("config: %s not found", path)
			}
			return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode: %w", err)
	}
	return p, nil
}

// YAML renders p for display. Secrets are omitted by their yaml tags.
func YAML(p Pipeline) ([]byte, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return b, nil
}
