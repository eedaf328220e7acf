package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"amcache/internal/casestore"
	"amcache/internal/config"
	"amcache/internal/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "ingest <database>",
		Short: "Project an already converted Amcache database",
		Long: `ingest reads a SQLite database produced by amcache_parser and projects the
selected tables into the case store. --table overrides the configured
selection and may be repeated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// ingest needs neither an evidence source nor the converter.
			p, err := a.load(cmd, "source", "converter")
			if err != nil {
				return err
			}
			logPipeline(p, a.verbose)
			defer setupMetrics(p)()

			selectors := p.Selectors()
			if cmd.Flags().Changed("table") {
				selectors = config.NormalizeSelectors(tables)
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, p)
			if err != nil {
				return err
			}
			defer store.Close()

			dbPath := args[0]
			start := time.Now()
			out, err := newCoordinator(p, store).Run(ctx, ingest.Request{
				DatabasePath: dbPath,
				Selectors:    selectors,
				Owner:        casestore.FileHandle{ID: 1, Name: filepath.Base(dbPath), Path: dbPath},
			})
			if a.verbose {
				cmd.PrintErrf("ingest: result=%s elapsed=%s\n", out.Result, elapsed(start))
			}
			return resultError(out.Result, err)
		},
	}
	cmd.Flags().StringSliceVar(&tables, "table", nil, "table to project (repeatable)")
	return cmd
}
