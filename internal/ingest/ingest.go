// Package ingest coordinates one ingest run: it resolves the selected tables
// of a source database, registers their artifact kinds and attribute types,
// projects their rows into the case store and notifies downstream consumers.
//
// Tables are processed one at a time. A failure confined to one table is
// logged and counted; only an unreadable database ends a run early.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"amcache/internal/casestore"
	"amcache/internal/catalog"
	"amcache/internal/metrics"
	"amcache/internal/projector"
	"amcache/internal/registry"
)

// Module identity reported in notifications, attribute sources and the CLI.
const (
	ModuleName    = "Parse Amcache"
	ModuleVersion = "1.3"
)

// Result is the terminal state of a run.
type Result int

const (
	ResultOK Result = iota
	ResultNoTablesSelected
	ResultUnreadableDatabase
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNoTablesSelected:
		return "no_tables_selected"
	case ResultUnreadableDatabase:
		return "unreadable_database"
	case ResultCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Request is the input of one run.
type Request struct {
	// DatabasePath is the local path of the converted database.
	DatabasePath string
	// Selectors are the table names to process, already normalized.
	Selectors []string
	// Owner is the evidence file the records are attached to.
	Owner casestore.FileHandle
}

// Summary aggregates a run for the run-complete notification.
type Summary struct {
	RunID           string
	TablesRequested int
	TablesMatched   int
	TablesProcessed int
	TablesFailed    int
	Rows            int64
	Persisted       int64
	Skipped         int64
	Duration        time.Duration
}

// TableReport is the outcome of one table.
type TableReport struct {
	Table string
	Kind  casestore.ArtifactKind
	Stats projector.Stats
	Err   error
}

// Outcome is returned by Run.
type Outcome struct {
	Result  Result
	Summary Summary
	Tables  []TableReport
}

// Coordinator runs ingests against one case store.
type Coordinator struct {
	Store    casestore.Store
	Notifier Notifier
	Naming   registry.Naming
	// Module overrides ModuleName as the notification and attribute source.
	Module string
	// Job labels metrics; defaults to "amcache".
	Job string
	// Open opens the source database; defaults to OpenSQLite.
	Open OpenFunc
}

func (c *Coordinator) module() string {
	if c.Module != "" {
		return c.Module
	}
	return ModuleName
}

func (c *Coordinator) job() string {
	if c.Job != "" {
		return c.Job
	}
	return "amcache"
}

func (c *Coordinator) naming() registry.Naming {
	if c.Naming == (registry.Naming{}) {
		return registry.DefaultNaming
	}
	return c.Naming
}

func (c *Coordinator) notifier() Notifier {
	if c.Notifier == nil {
		return LogNotifier{}
	}
	return c.Notifier
}

// Run executes one ingest. The returned error is non-nil only for
// ResultUnreadableDatabase and wraps catalog.ErrUnreadableDatabase.
// Cancellation between or during tables yields ResultCancelled; an
// interrupted table counts as neither processed nor failed.
func (c *Coordinator) Run(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	out := Outcome{Summary: Summary{
		RunID:           uuid.NewString(),
		TablesRequested: len(req.Selectors),
	}}
	sum := &out.Summary
	module := c.module()
	notify := c.notifier()

	if len(req.Selectors) == 0 {
		log.Printf("ingest: run=%s no tables selected; database not opened", sum.RunID)
		notify.Message(ctx, module, SubjectNoTables, DetailNoTables)
		out.Result = ResultNoTablesSelected
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		log.Printf("ingest: run=%s cancelled before start: %v", sum.RunID, err)
		out.Result = ResultCancelled
		return out, nil
	}

	open := c.Open
	if open == nil {
		open = OpenSQLite
	}
	t0 := time.Now()
	cat, err := open(ctx, req.DatabasePath)
	metrics.RecordStep(c.job(), "open", err, time.Since(t0))
	if err != nil {
		return c.fatal(out, err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			log.Printf("ingest: run=%s close catalog: %v", sum.RunID, err)
		}
	}()

	tables, err := cat.ListMatchingTables(ctx, req.Selectors)
	if err != nil {
		return c.fatal(out, err)
	}
	sum.TablesMatched = len(tables)
	log.Printf("ingest: run=%s db=%s owner=%s requested=%d matched=%d",
		sum.RunID, req.DatabasePath, req.Owner.Name, len(req.Selectors), len(tables))

	reg := registry.New(c.Store)
	proj := &projector.Projector{Source: cat, Store: c.Store, Module: module, RunID: sum.RunID}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			log.Printf("ingest: run=%s cancelled before table=%s: %v", sum.RunID, table, err)
			out.Result = ResultCancelled
			break
		}

		rep := c.runTable(ctx, reg, proj, cat, table, req.Owner)
		out.Tables = append(out.Tables, rep)

		sum.Rows += rep.Stats.Rows
		sum.Persisted += rep.Stats.Persisted
		sum.Skipped += rep.Stats.Skipped
		metrics.RecordRow(c.job(), "rows", rep.Stats.Rows)
		metrics.RecordRow(c.job(), "persisted", rep.Stats.Persisted)
		metrics.RecordRow(c.job(), "skipped", rep.Stats.Skipped)

		if ctx.Err() != nil || errors.Is(rep.Err, context.Canceled) {
			metrics.RecordTable(c.job(), table, "cancelled")
			log.Printf("ingest: run=%s cancelled during table=%s persisted=%d", sum.RunID, table, rep.Stats.Persisted)
			out.Result = ResultCancelled
			break
		}
		if rep.Err != nil {
			sum.TablesFailed++
			metrics.RecordTable(c.job(), table, "failed")
			log.Printf("ingest: run=%s table=%s failed: %v", sum.RunID, table, rep.Err)
			continue
		}
		sum.TablesProcessed++
		metrics.RecordTable(c.job(), table, "processed")
		notify.TableCompleted(ctx, module, rep.Kind)
	}

	sum.Duration = time.Since(start)
	log.Printf(
		"summary: run=%s tables_requested=%d tables_matched=%d tables_processed=%d tables_failed=%d rows=%d persisted=%d skipped=%d elapsed=%s",
		sum.RunID, sum.TablesRequested, sum.TablesMatched, sum.TablesProcessed, sum.TablesFailed,
		sum.Rows, sum.Persisted, sum.Skipped, sum.Duration.Truncate(time.Millisecond),
	)
	notify.RunCompleted(ctx, module, *sum)
	return out, nil
}

func (c *Coordinator) fatal(out Outcome, err error) (Outcome, error) {
	out.Result = ResultUnreadableDatabase
	if !errors.Is(err, catalog.ErrUnreadableDatabase) {
		err = fmt.Errorf("%w: %v", catalog.ErrUnreadableDatabase, err)
	}
	log.Printf("ingest: run=%s fatal: %v", out.Summary.RunID, err)
	return out, fmt.Errorf("ingest: %w", err)
}

// runTable discovers, registers and projects one table.
func (c *Coordinator) runTable(
	ctx context.Context,
	reg *registry.Registry,
	proj *projector.Projector,
	cat Catalog,
	table string,
	owner casestore.FileHandle,
) TableReport {
	rep := TableReport{Table: table}
	naming := c.naming()

	t0 := time.Now()
	cols, err := cat.DescribeColumns(ctx, table)
	metrics.RecordStep(c.job(), "discover", err, time.Since(t0))
	if err != nil {
		rep.Err = err
		return rep
	}

	t0 = time.Now()
	kind, attrs, err := ensureSchema(ctx, reg, naming, table, cols)
	metrics.RecordStep(c.job(), "register", err, time.Since(t0))
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Kind = kind

	t0 = time.Now()
	rep.Stats, rep.Err = proj.ProjectRows(ctx, table, cols, attrs, kind, owner)
	metrics.RecordStep(c.job(), "project", rep.Err, time.Since(t0))
	log.Printf("ingest: table=%s kind=%s columns=%d rows=%d persisted=%d skipped=%d",
		table, kind.Name, len(cols), rep.Stats.Rows, rep.Stats.Persisted, rep.Stats.Skipped)
	return rep
}

// ensureSchema resolves the artifact kind of table and one attribute type
// per column, in column order.
func ensureSchema(
	ctx context.Context,
	reg *registry.Registry,
	naming registry.Naming,
	table string,
	cols []catalog.ColumnDescriptor,
) (casestore.ArtifactKind, []casestore.AttributeType, error) {
	kind, err := reg.EnsureArtifactKind(ctx, naming.ArtifactKindName(table), naming.ArtifactDescription(table))
	if err != nil {
		return kind, nil, err
	}
	attrs := make([]casestore.AttributeType, len(cols))
	for i, col := range cols {
		at, err := reg.EnsureAttributeType(ctx, naming.AttributeTypeName(col.Name), col.Kind, col.Name)
		if err != nil {
			return kind, nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		attrs[i] = at
	}
	return kind, attrs, nil
}
