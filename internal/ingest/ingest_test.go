package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"amcache/internal/casestore"
	"amcache/internal/casestore/memory"
	"amcache/internal/catalog"
	"amcache/internal/projector"
)

// recorder is a Notifier that keeps every call.
type recorder struct {
	mu       sync.Mutex
	tables   []string
	runs     []Summary
	messages []string

	onTable func(kind casestore.ArtifactKind)
}

func (r *recorder) TableCompleted(_ context.Context, _ string, kind casestore.ArtifactKind) {
	r.mu.Lock()
	r.tables = append(r.tables, kind.Name)
	r.mu.Unlock()
	if r.onTable != nil {
		r.onTable(kind)
	}
}

func (r *recorder) RunCompleted(_ context.Context, _ string, s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

func (r *recorder) Message(_ context.Context, _, subject, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, subject+": "+detail)
}

func newFixtureDB(tb testing.TB, stmts ...string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "amcache.db3")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatal(err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			tb.Fatalf("fixture %q: %v", s, err)
		}
	}
	return path
}

var hive = casestore.FileHandle{ID: 11, Name: "Amcache.hve", Path: "/evidence/Windows/AppCompat/Programs/Amcache.hve"}

func TestRun_ProgramEntriesEndToEnd(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE program_entries (name TEXT, run_count INTEGER)`,
		`INSERT INTO program_entries VALUES ('chrome.exe', 10), ('notepad.exe', 2)`,
	)
	st := memory.New()
	rec := &recorder{}
	c := &Coordinator{Store: st, Notifier: rec}

	out, err := c.Run(context.Background(), Request{DatabasePath: path, Selectors: []string{"program_entries"}, Owner: hive})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result != ResultOK {
		t.Fatalf("result = %s", out.Result)
	}

	if n := st.Calls("CreateArtifactKind"); n != 1 {
		t.Fatalf("CreateArtifactKind calls = %d", n)
	}
	if n := st.Calls("CreateAttributeType"); n != 2 {
		t.Fatalf("CreateAttributeType calls = %d", n)
	}
	kind, err := st.ArtifactKindByName(context.Background(), "TSK_PROGRAM_ENTRIES")
	if err != nil || kind.Description != "Amcache PROGRAM_ENTRIES" {
		t.Fatalf("kind = %+v, %v", kind, err)
	}
	name, _ := st.AttributeTypeByName(context.Background(), "TSK_NAME")
	count, _ := st.AttributeTypeByName(context.Background(), "TSK_RUN_COUNT")
	if name.ValueKind != casestore.ValueString || name.Label != "name" {
		t.Fatalf("TSK_NAME = %+v", name)
	}
	if count.ValueKind != casestore.ValueLong || count.Label != "run_count" {
		t.Fatalf("TSK_RUN_COUNT = %+v", count)
	}

	recs := st.Records("TSK_PROGRAM_ENTRIES")
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	want := [][]any{{"chrome.exe", int64(10)}, {"notepad.exe", int64(2)}}
	for i, r := range recs {
		got := []any{r.Attributes[0].Value(), r.Attributes[1].Value()}
		if !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("record %d = %v, want %v", i, got, want[i])
		}
		if r.Owner != hive || r.RunID != out.Summary.RunID || r.Attributes[0].Source != ModuleName {
			t.Fatalf("record %d metadata = %+v", i, r)
		}
	}

	if !reflect.DeepEqual(rec.tables, []string{"TSK_PROGRAM_ENTRIES"}) {
		t.Fatalf("table notifications = %v", rec.tables)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("run notifications = %d", len(rec.runs))
	}
	s := rec.runs[0]
	if s.TablesMatched != 1 || s.TablesProcessed != 1 || s.TablesFailed != 0 || s.Persisted != 2 || s.Rows != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if s.RunID == "" || s != out.Summary {
		t.Fatalf("summary mismatch: notified %+v, returned %+v", s, out.Summary)
	}
}

func TestRun_SecondRunReusesDefinitions(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE program_entries (name TEXT, run_count INTEGER)`,
		`INSERT INTO program_entries VALUES ('a', 1)`,
	)
	st := memory.New()
	c := &Coordinator{Store: st, Notifier: &recorder{}}
	req := Request{DatabasePath: path, Selectors: []string{"program_entries"}, Owner: hive}

	for i := 0; i < 2; i++ {
		if out, err := c.Run(context.Background(), req); err != nil || out.Result != ResultOK {
			t.Fatalf("run %d: %v %v", i, out.Result, err)
		}
	}
	recs := st.Records("TSK_PROGRAM_ENTRIES")
	if len(recs) != 2 || recs[0].Kind != recs[1].Kind {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Attributes[0].Type != recs[1].Attributes[0].Type {
		t.Fatal("attribute type differs across runs")
	}
}

func TestRun_EmptySelectorsTouchNothing(t *testing.T) {
	opened := 0
	rec := &recorder{}
	c := &Coordinator{
		Store:    memory.New(),
		Notifier: rec,
		Open: func(context.Context, string) (Catalog, error) {
			opened++
			return nil, errors.New("must not open")
		},
	}
	out, err := c.Run(context.Background(), Request{DatabasePath: "/nonexistent.db3"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != ResultNoTablesSelected {
		t.Fatalf("result = %s", out.Result)
	}
	if opened != 0 {
		t.Fatalf("database opened %d times", opened)
	}
	if len(rec.messages) != 1 || rec.messages[0] != SubjectNoTables+": "+DetailNoTables {
		t.Fatalf("messages = %v", rec.messages)
	}
	if len(rec.runs) != 0 {
		t.Fatal("run-complete fired for an empty selection")
	}
}

func TestRun_UnreadableDatabase(t *testing.T) {
	rec := &recorder{}
	c := &Coordinator{Store: memory.New(), Notifier: rec}
	out, err := c.Run(context.Background(), Request{
		DatabasePath: filepath.Join(t.TempDir(), "missing.db3"),
		Selectors:    []string{"program_entries"},
	})
	if out.Result != ResultUnreadableDatabase {
		t.Fatalf("result = %s", out.Result)
	}
	if !errors.Is(err, catalog.ErrUnreadableDatabase) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.runs) != 0 {
		t.Fatal("run-complete fired after a fatal error")
	}
}

// fakeCatalog serves fixed tables; tables listed in failDescribe error out.
type fakeCatalog struct {
	tables       []string
	failDescribe map[string]bool
	listErr      error
	closed       int
}

func (f *fakeCatalog) ListMatchingTables(context.Context, []string) ([]string, error) {
	return f.tables, f.listErr
}

func (f *fakeCatalog) DescribeColumns(_ context.Context, table string) ([]catalog.ColumnDescriptor, error) {
	if f.failDescribe[table] {
		return nil, errors.New("no such table: " + table)
	}
	return []catalog.ColumnDescriptor{{Name: "name", DeclaredType: "TEXT", Kind: casestore.ValueString}}, nil
}

func (f *fakeCatalog) Rows(_ context.Context, table string) (projector.Rows, error) {
	return &sliceRows{data: [][]any{{table + "-row"}}}, nil
}

func (f *fakeCatalog) Close() error { f.closed++; return nil }

type sliceRows struct {
	data [][]any
	i    int
}

func (r *sliceRows) Columns() []string      { return []string{"name"} }
func (r *sliceRows) Next() bool             { r.i++; return r.i <= len(r.data) }
func (r *sliceRows) Values() ([]any, error) { return r.data[r.i-1], nil }
func (r *sliceRows) Err() error             { return nil }
func (r *sliceRows) Close() error           { return nil }

func coordinatorWith(fc *fakeCatalog, st casestore.Store, n Notifier) *Coordinator {
	return &Coordinator{
		Store:    st,
		Notifier: n,
		Open:     func(context.Context, string) (Catalog, error) { return fc, nil },
	}
}

func TestRun_TableFailureIsIsolated(t *testing.T) {
	fc := &fakeCatalog{
		tables:       []string{"t1", "t2", "t3"},
		failDescribe: map[string]bool{"t2": true},
	}
	st := memory.New()
	rec := &recorder{}

	out, err := coordinatorWith(fc, st, rec).Run(context.Background(), Request{Selectors: []string{"t1", "t2", "t3"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != ResultOK {
		t.Fatalf("result = %s", out.Result)
	}
	if len(st.Records("TSK_T1")) != 1 || len(st.Records("TSK_T3")) != 1 || len(st.Records("TSK_T2")) != 0 {
		t.Fatalf("records: t1=%d t2=%d t3=%d",
			len(st.Records("TSK_T1")), len(st.Records("TSK_T2")), len(st.Records("TSK_T3")))
	}
	if !reflect.DeepEqual(rec.tables, []string{"TSK_T1", "TSK_T3"}) {
		t.Fatalf("table notifications = %v", rec.tables)
	}
	if s := out.Summary; s.TablesProcessed != 2 || s.TablesFailed != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if out.Tables[1].Err == nil {
		t.Fatal("t2 report has no error")
	}
	if len(rec.runs) != 1 {
		t.Fatal("run-complete not fired")
	}
	if fc.closed != 1 {
		t.Fatalf("catalog closed %d times", fc.closed)
	}
}

func TestRun_ListFailureIsFatalAndCloses(t *testing.T) {
	fc := &fakeCatalog{listErr: errors.New("file is not a database")}
	out, err := coordinatorWith(fc, memory.New(), &recorder{}).Run(context.Background(), Request{Selectors: []string{"t1"}})
	if out.Result != ResultUnreadableDatabase || !errors.Is(err, catalog.ErrUnreadableDatabase) {
		t.Fatalf("result = %s, err = %v", out.Result, err)
	}
	if fc.closed != 1 {
		t.Fatalf("catalog closed %d times", fc.closed)
	}
}

func TestRun_CancelledBetweenTables(t *testing.T) {
	fc := &fakeCatalog{tables: []string{"t1", "t2"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onTable: func(casestore.ArtifactKind) { cancel() }}
	st := memory.New()

	out, err := coordinatorWith(fc, st, rec).Run(ctx, Request{Selectors: []string{"t1", "t2"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != ResultCancelled {
		t.Fatalf("result = %s", out.Result)
	}
	if len(st.Records("TSK_T2")) != 0 || len(st.Records("TSK_T1")) != 1 {
		t.Fatal("cancellation not honored between tables")
	}
	if len(rec.runs) != 1 {
		t.Fatal("run-complete should fire after a partial run")
	}
	if fc.closed != 1 {
		t.Fatalf("catalog closed %d times", fc.closed)
	}
}

func TestRun_CancelledBeforeOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opened := false
	c := &Coordinator{
		Store: memory.New(),
		Open: func(context.Context, string) (Catalog, error) {
			opened = true
			return nil, errors.New("unexpected")
		},
		Notifier: &recorder{},
	}
	out, err := c.Run(ctx, Request{Selectors: []string{"t1"}})
	if err != nil || out.Result != ResultCancelled || opened {
		t.Fatalf("result=%s err=%v opened=%v", out.Result, err, opened)
	}
}

func TestNewNotifier_PostsToInbox(t *testing.T) {
	st := memory.New()
	n := NewNotifier(st, "amcache")
	n.Message(context.Background(), ModuleName, SubjectNoTables, DetailNoTables)
	n.RunCompleted(context.Background(), ModuleName, Summary{RunID: "r", TablesMatched: 1, TablesProcessed: 1})

	msgs := st.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Subject != SubjectAnalyzed || msgs[1].Module != ModuleName {
		t.Fatalf("run message = %+v", msgs[1])
	}
}

func TestResultString(t *testing.T) {
	for r, want := range map[Result]string{
		ResultOK:                 "ok",
		ResultNoTablesSelected:   "no_tables_selected",
		ResultUnreadableDatabase: "unreadable_database",
		ResultCancelled:          "cancelled",
	} {
		if r.String() != want {
			t.Errorf("%d.String() = %q", int(r), r.String())
		}
	}
}

func TestRun_CancelledDuringLastTable(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE program_entries (name TEXT, run_count INTEGER)`,
		`INSERT INTO program_entries VALUES ('a.exe', 1), ('b.exe', 2), ('c.exe', 3)`,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memory.New()
	st.FailAddRecord = func(casestore.Record) error {
		cancel()
		return nil
	}
	rec := &recorder{}
	c := &Coordinator{Store: st, Notifier: rec}

	out, err := c.Run(ctx, Request{DatabasePath: path, Selectors: []string{"program_entries"}, Owner: hive})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != ResultCancelled {
		t.Fatalf("result = %s, want cancelled", out.Result)
	}
	if len(rec.tables) != 0 {
		t.Fatalf("table completed fired for an interrupted table: %v", rec.tables)
	}
	s := out.Summary
	if s.Persisted != 1 || s.TablesProcessed != 0 || s.TablesFailed != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRun_DateTimeColumnsAreProjected(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE program_entries (name TEXT, install_date DATETIME, created TIMESTAMP)`,
		`INSERT INTO program_entries VALUES ('chrome.exe', '2016-08-31 10:00:00', '2017-01-02 03:04:05'), ('cmd.exe', NULL, 1483326245)`,
	)
	st := memory.New()
	c := &Coordinator{Store: st, Notifier: &recorder{}}

	out, err := c.Run(context.Background(), Request{DatabasePath: path, Selectors: []string{"program_entries"}, Owner: hive})
	if err != nil || out.Result != ResultOK {
		t.Fatalf("result=%s err=%v", out.Result, err)
	}
	if out.Summary.Persisted != 2 || out.Summary.Skipped != 0 {
		t.Fatalf("summary = %+v", out.Summary)
	}
	recs := st.Records("TSK_PROGRAM_ENTRIES")
	want := [][]any{
		{"chrome.exe", int64(2016), int64(2017)},
		{"cmd.exe", int64(0), int64(1483326245)},
	}
	for i, r := range recs {
		if got := []any{r.Attributes[0].Value(), r.Attributes[1].Value(), r.Attributes[2].Value()}; !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("record %d = %v, want %v", i, got, want[i])
		}
	}
}
