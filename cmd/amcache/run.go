package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"amcache/internal/acquire"
	"amcache/internal/casestore"
	"amcache/internal/config"
	"amcache/internal/convert"
	"amcache/internal/ingest"
	"amcache/internal/metrics"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Acquire, convert and project every Amcache hive in the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.load(cmd)
			if err != nil {
				return err
			}
			logPipeline(p, a.verbose)
			defer setupMetrics(p)()
			return runPipeline(cmd.Context(), p)
		},
	}
}

// hiveReport is the per-hive line of the run summary.
type hiveReport struct {
	hive   acquire.Hive
	result ingest.Result
	err    error
}

func runPipeline(ctx context.Context, p config.Pipeline) error {
	start := time.Now()

	store, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	defer store.Close()
	coord := newCoordinator(p, store)

	selectors := p.Selectors()
	if len(selectors) == 0 {
		// Reported once; no evidence is touched.
		out, err := coord.Run(ctx, ingest.Request{})
		return resultError(out.Result, err)
	}

	conv, err := convert.Locate(p.Converter.Path, time.Duration(p.Converter.TimeoutSeconds)*time.Second)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	src, err := newSource(p.Source)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	workDir, cleanup, err := acquire.NewWorkDir(p.WorkDir)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer func() {
		if p.KeepWorkDir {
			log.Printf("run: keeping work dir %s", workDir)
			return
		}
		if err := cleanup(); err != nil {
			log.Printf("run: cleanup %s: %v", workDir, err)
		}
	}()

	t0 := time.Now()
	hives, err := src.Acquire(ctx, workDir)
	metrics.RecordStep(p.Job, "acquire", err, time.Since(t0))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("run: cancelled during acquisition")
			return nil
		}
		return &exitError{code: 1, err: err}
	}
	if len(hives) == 0 {
		log.Printf("run: no %s files found", p.Source.FileName)
	}

	var reports []hiveReport
	for _, h := range hives {
		if ctx.Err() != nil {
			log.Printf("run: cancelled before hive=%s", h.Origin)
			break
		}
		rep := processHive(ctx, p, conv, coord, workDir, h, selectors)
		reports = append(reports, rep)
		if rep.result == ingest.ResultCancelled {
			break
		}
	}

	failed := 0
	for _, r := range reports {
		if r.err != nil {
			failed++
			log.Printf("run: hive=%s failed: %v", r.hive.Origin, r.err)
		}
	}
	log.Printf("summary: hives_found=%d hives_processed=%d hives_failed=%d elapsed=%s",
		len(hives), len(reports)-failed, failed, elapsed(start))
	if failed > 0 && failed == len(reports) {
		return &exitError{code: 1, err: fmt.Errorf("run: all %d hives failed", failed)}
	}
	return nil
}

// processHive converts one hive and ingests the result with the hive as
// owner. Failures are reported, not returned, so the loop can continue.
func processHive(
	ctx context.Context,
	p config.Pipeline,
	conv *convert.Converter,
	coord *ingest.Coordinator,
	workDir string,
	h acquire.Hive,
	selectors []string,
) hiveReport {
	rep := hiveReport{hive: h}
	dbPath := filepath.Join(workDir, "db", fmt.Sprintf("%03d", h.ID), "amcache.db3")

	t0 := time.Now()
	err := conv.Run(ctx, h.Path, dbPath)
	metrics.RecordStep(p.Job, "convert", err, time.Since(t0))
	if err != nil {
		if ctx.Err() != nil {
			rep.result = ingest.ResultCancelled
			return rep
		}
		rep.result, rep.err = ingest.ResultUnreadableDatabase, err
		return rep
	}

	out, err := coord.Run(ctx, ingest.Request{
		DatabasePath: dbPath,
		Selectors:    selectors,
		Owner:        casestore.FileHandle{ID: h.ID, Name: h.Name, Path: h.Origin},
	})
	rep.result, rep.err = out.Result, err
	return rep
}

func newSource(s config.Source) (acquire.Source, error) {
	switch s.Kind {
	case "local":
		return acquire.Local{Root: s.Local.Root, FileName: s.FileName}, nil
	case "bucket":
		return acquire.NewBucket(acquire.BucketConfig{
			Endpoint:  s.Bucket.Endpoint,
			Bucket:    s.Bucket.Bucket,
			Prefix:    s.Bucket.Prefix,
			AccessKey: s.Bucket.AccessKey,
			SecretKey: s.Bucket.SecretKey,
			Region:    s.Bucket.Region,
			UseSSL:    s.Bucket.UseSSL,
		}, s.FileName)
	default:
		return nil, fmt.Errorf("run: unknown source kind %q", s.Kind)
	}
}
