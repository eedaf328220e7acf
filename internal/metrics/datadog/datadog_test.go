package datadog

import (
	"errors"
	"reflect"
	"testing"

	"amcache/internal/metrics"
)

type fakeClient struct {
	counts     []string
	histograms []float64
	tags       [][]string
	flushed    bool
	closed     bool
	flushErr   error
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.counts = append(f.counts, name)
	f.tags = append(f.tags, tags)
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, _ float64) error {
	f.histograms = append(f.histograms, value)
	return nil
}

func (f *fakeClient) Flush() error { f.flushed = true; return f.flushErr }
func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestNewBackend_RequiresAddr(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("expected error for empty Addr")
	}
}

func TestBackend_ForwardsWithSortedTags(t *testing.T) {
	fc := &fakeClient{}
	b := &Backend{client: fc}

	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"table": "program_entries", "outcome": "processed", "job": "amcache"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, nil)

	if len(fc.counts) != 1 || fc.counts[0] != metrics.TablesTotal {
		t.Fatalf("counts = %v", fc.counts)
	}
	want := []string{"job:amcache", "outcome:processed", "table:program_entries"}
	if !reflect.DeepEqual(fc.tags[0], want) {
		t.Fatalf("tags = %v, want %v", fc.tags[0], want)
	}
	if len(fc.histograms) != 1 || fc.histograms[0] != 0.25 {
		t.Fatalf("histograms = %v", fc.histograms)
	}
}

func TestBackend_FlushClosesClient(t *testing.T) {
	fc := &fakeClient{}
	b := &Backend{client: fc}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if !fc.flushed || !fc.closed {
		t.Fatalf("flushed=%v closed=%v", fc.flushed, fc.closed)
	}

	fc = &fakeClient{flushErr: errors.New("socket gone")}
	b = &Backend{client: fc}
	if err := b.Flush(); err == nil || fc.closed {
		t.Fatalf("err=%v closed=%v", err, fc.closed)
	}
}

func TestNilClientIsNoop(t *testing.T) {
	b := &Backend{}
	b.IncCounter("x", 1, nil)
	b.ObserveHistogram("x", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
}
