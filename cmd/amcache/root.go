package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"amcache/internal/casestore"
	"amcache/internal/config"
	"amcache/internal/ingest"
	"amcache/internal/metrics"
	"amcache/internal/metrics/datadog"
	"amcache/internal/metrics/prompush"
	"amcache/internal/registry"
)

// app holds state shared by subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "amcache",
		Short: "Project Amcache hive tables into a case store",
		Long: `amcache finds Amcache.hve files in an evidence source, converts each one
to SQLite with the external amcache_parser tool, and projects the selected
tables into typed artifacts and attributes in a case store.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (AMCACHE_*)
  3. Config file (--config)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "pipeline config file (JSON or YAML)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	pf.String("job", "", "job name for metrics and logs")
	pf.String("storage-kind", "", "case store backend (sqlite, postgres, mssql, mysql, memory)")
	pf.String("storage-dsn", "", "case store DSN")
	pf.String("metrics-backend", "", "metrics backend (none, prompush, datadog)")
	for key, flag := range map[string]string{
		"job":             "job",
		"storage.kind":    "storage-kind",
		"storage.dsn":     "storage-dsn",
		"metrics.backend": "metrics-backend",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newRunCmd(a),
		newIngestCmd(a),
		newValidateCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ingest.ModuleName, ingest.ModuleVersion)
		},
	}
}

// load decodes the effective configuration and rejects it when validation
// reports errors. Issues under the ignored top-level sections are dropped.
func (a *app) load(cmd *cobra.Command, ignore ...string) (config.Pipeline, error) {
	p, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Pipeline{}, &exitError{code: 1, err: err}
	}
	var issues []config.Issue
	for _, iss := range config.ValidatePipeline(p) {
		if !inSections(iss.Path, ignore) {
			issues = append(issues, iss)
		}
	}
	for _, iss := range issues {
		if iss.Severity == config.SeverityError || a.verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if config.HasErrors(issues) {
		return config.Pipeline{}, &exitError{code: 1, err: fmt.Errorf("configuration is invalid")}
	}
	return p, nil
}

// setupMetrics installs the configured backend and returns the flush to run
// once the command is done.
func setupMetrics(p config.Pipeline) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "prompush":
		b, err = prompush.NewBackend(p.Job, p.Metrics.PushGateway)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			Namespace:  p.Metrics.Namespace,
			GlobalTags: append([]string{"job:" + p.Job}, p.Metrics.Tags...),
		})
	default:
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", p.Metrics.Backend, err)
		return func() {}
	}
	log.Printf("metrics: backend=%s job=%s", p.Metrics.Backend, p.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func openStore(ctx context.Context, p config.Pipeline) (casestore.Store, error) {
	s, err := casestore.New(ctx, casestore.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return nil, &exitError{code: 1, err: fmt.Errorf("open case store: %w", err)}
	}
	return s, nil
}

func newCoordinator(p config.Pipeline, store casestore.Store) *ingest.Coordinator {
	return &ingest.Coordinator{
		Store:    store,
		Notifier: ingest.NewNotifier(store, p.Job),
		Naming: registry.Naming{
			ArtifactPrefix:    p.Naming.ArtifactPrefix,
			AttributePrefix:   p.Naming.AttributePrefix,
			DescriptionPrefix: p.Naming.DescriptionPrefix,
		},
		Module: p.Module,
		Job:    p.Job,
	}
}

// resultError maps a run result to the process exit code.
func resultError(r ingest.Result, err error) error {
	switch r {
	case ingest.ResultOK, ingest.ResultCancelled:
		return nil
	case ingest.ResultNoTablesSelected:
		return &exitError{code: 2}
	default:
		return &exitError{code: 1, err: err}
	}
}

func inSections(path string, sections []string) bool {
	for _, sec := range sections {
		if path == sec || strings.HasPrefix(path, sec+".") {
			return true
		}
	}
	return false
}

func logPipeline(p config.Pipeline, verbose bool) {
	if !verbose {
		return
	}
	log.Printf("pipeline: job=%s source=%s storage=%s tables=%s",
		p.Job, p.Source.Kind, p.Storage.Kind, strings.Join(p.Selectors(), ","))
}

func elapsed(start time.Time) time.Duration {
	return time.Since(start).Truncate(time.Millisecond)
}
