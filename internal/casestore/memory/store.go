// Package memory is an in-process casestore.Store. It backs dry runs
// (storage.kind "memory") and the engine's unit tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"amcache/internal/casestore"
)

// Store keeps definitions, records and messages in maps guarded by a mutex.
type Store struct {
	mu sync.Mutex

	nextID   int64
	kinds    map[string]casestore.ArtifactKind
	attrs    map[string]casestore.AttributeType
	records  []casestore.Record
	messages []casestore.Message

	// FailAddRecord, when set, is consulted before each AddRecord. A
	// non-nil return fails that record.
	FailAddRecord func(rec casestore.Record) error

	calls map[string]int
}

var (
	_ casestore.Store         = (*Store)(nil)
	_ casestore.MessagePoster = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		kinds: map[string]casestore.ArtifactKind{},
		attrs: map[string]casestore.AttributeType{},
		calls: map[string]int{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateArtifactKind(_ context.Context, name, description string) (casestore.ArtifactKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CreateArtifactKind"]++
	if _, ok := s.kinds[name]; ok {
		return casestore.ArtifactKind{}, fmt.Errorf("memory: artifact kind %q: %w", name, casestore.ErrAlreadyExists)
	}
	k := casestore.ArtifactKind{ID: s.id(), Name: name, Description: description}
	s.kinds[name] = k
	return k, nil
}

func (s *Store) ArtifactKindByName(_ context.Context, name string) (casestore.ArtifactKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ArtifactKindByName"]++
	k, ok := s.kinds[name]
	if !ok {
		return casestore.ArtifactKind{}, fmt.Errorf("memory: artifact kind %q: %w", name, casestore.ErrNotFound)
	}
	return k, nil
}

func (s *Store) CreateAttributeType(_ context.Context, name string, kind casestore.ValueKind, label string) (casestore.AttributeType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CreateAttributeType"]++
	if _, ok := s.attrs[name]; ok {
		return casestore.AttributeType{}, fmt.Errorf("memory: attribute type %q: %w", name, casestore.ErrAlreadyExists)
	}
	t := casestore.AttributeType{ID: s.id(), Name: name, ValueKind: kind, Label: label}
	s.attrs[name] = t
	return t, nil
}

func (s *Store) AttributeTypeByName(_ context.Context, name string) (casestore.AttributeType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["AttributeTypeByName"]++
	t, ok := s.attrs[name]
	if !ok {
		return casestore.AttributeType{}, fmt.Errorf("memory: attribute type %q: %w", name, casestore.ErrNotFound)
	}
	return t, nil
}

// AddRecord stores a copy of rec.
func (s *Store) AddRecord(_ context.Context, rec casestore.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["AddRecord"]++
	if s.FailAddRecord != nil {
		if err := s.FailAddRecord(rec); err != nil {
			return 0, err
		}
	}
	rec.Attributes = append([]casestore.Attribute(nil), rec.Attributes...)
	s.records = append(s.records, rec)
	return s.id(), nil
}

func (s *Store) PostMessage(_ context.Context, m casestore.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *Store) Close() error { return nil }

// Records returns the persisted records, optionally filtered by kind name.
func (s *Store) Records(kind string) []casestore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []casestore.Record
	for _, r := range s.records {
		if kind == "" || r.Kind.Name == kind {
			out = append(out, r)
		}
	}
	return out
}

// Messages returns the posted inbox messages.
func (s *Store) Messages() []casestore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]casestore.Message(nil), s.messages...)
}

// Calls reports how many times the named method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func init() {
	casestore.Register("memory", func(context.Context, casestore.Config) (casestore.Store, error) {
		return New(), nil
	})
}
