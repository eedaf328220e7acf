// Package casestore defines the contract between the projection engine and
// the downstream case/evidence store that owns artifact-kind and
// attribute-type registries and persists attributed records.
//
// The engine never imports a backend directly. Backends register themselves
// with Register from an init function (see casestore/all) and callers obtain a
// Store through New, mirroring the storage factory used by the ETL binaries.
package casestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAlreadyExists is returned by the Create* methods when a definition
	// with the same name is already registered. It is an expected condition.
	ErrAlreadyExists = errors.New("casestore: already exists")

	// ErrNotFound is returned by lookups when no definition has the name.
	ErrNotFound = errors.New("casestore: not found")
)

// ValueKind is the semantic value type of an attribute.
type ValueKind string

const (
	ValueString ValueKind = "STRING"
	ValueLong   ValueKind = "LONG"
)

// ArtifactKind is a registered artifact category (one per source table).
type ArtifactKind struct {
	ID          int64
	Name        string
	Description string
}

// AttributeType is a registered, typed field definition (one per column).
type AttributeType struct {
	ID        int64
	Name      string
	ValueKind ValueKind
	Label     string
}

// FileHandle identifies the evidence file records are attached to.
type FileHandle struct {
	ID   int64
	Name string
	Path string
}

// Attribute is one typed value on a record. Exactly one of Text/Int is
// meaningful, chosen by Type.ValueKind.
type Attribute struct {
	Type   AttributeType
	Source string
	Text   string
	Int    int64
}

// Value returns the attribute value as text or int64.
func (a Attribute) Value() any {
	if a.Type.ValueKind == ValueLong {
		return a.Int
	}
	return a.Text
}

// Record is one attributed record derived from a single source row.
type Record struct {
	Owner       FileHandle
	Kind        ArtifactKind
	RunID       string
	Fingerprint uint64
	Attributes  []Attribute
}

// AddAttribute appends a typed value, preserving column order.
func (r *Record) AddAttribute(a Attribute) {
	r.Attributes = append(r.Attributes, a)
}

// Message is an informational inbox entry posted by an ingest module.
type Message struct {
	Module    string
	Subject   string
	Detail    string
	CreatedAt time.Time
}

// Store is the schema-registration and record-persistence surface.
type Store interface {
	// CreateArtifactKind registers a new artifact kind. Returns
	// ErrAlreadyExists (possibly wrapped) if the name is taken.
	CreateArtifactKind(ctx context.Context, name, description string) (ArtifactKind, error)
	// ArtifactKindByName looks up a kind; ErrNotFound if absent.
	ArtifactKindByName(ctx context.Context, name string) (ArtifactKind, error)

	CreateAttributeType(ctx context.Context, name string, kind ValueKind, label string) (AttributeType, error)
	AttributeTypeByName(ctx context.Context, name string) (AttributeType, error)

	// AddRecord persists a fully populated record atomically.
	AddRecord(ctx context.Context, rec Record) (int64, error)

	Close() error
}

// MessagePoster is implemented by stores that keep an ingest inbox.
type MessagePoster interface {
	PostMessage(ctx context.Context, m Message) error
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a Store for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on empty kind,
// nil factory, or duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("casestore: Register called with empty kind")
	}
	if f == nil {
		panic("casestore: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("casestore: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// New opens a Store using the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("casestore: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported casestore kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
