package projector

import (
	"log"
	"sync"
)

// errAgg keeps the first few row errors of a table and a count per message.
type errAgg struct {
	mu      sync.Mutex
	limit   int
	count   int
	first   []string
	buckets map[string]int
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit, buckets: make(map[string]int)}
}

func (a *errAgg) add(msg string) {
	a.mu.Lock()
	if _, seen := a.buckets[msg]; !seen && len(a.first) < a.limit {
		a.first = append(a.first, msg)
	}
	a.buckets[msg]++
	a.count++
	a.mu.Unlock()
}

func (a *errAgg) log(table string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return
	}
	log.Printf("projector: table=%s skipped rows: %d (showing first %d)", table, a.count, len(a.first))
	for i, s := range a.first {
		log.Printf("  #%03d: %s (x%d)", i+1, s, a.buckets[s])
	}
}
